package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type depositDocument struct {
	ID            documentID `bson:"_id"`
	AccountName   string     `bson:"accountName"`
	AccountNumber string     `bson:"accountNumber"`
	Amount        amount     `bson:"amount"`
	Status        string     `bson:"status"`
	ProofKey      string     `bson:"proofKey,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt"`
	ApprovedAt    *time.Time `bson:"approvedAt,omitempty"`
	RejectedAt    *time.Time `bson:"rejectedAt,omitempty"`
}

func (d depositDocument) toDeposit() types.Deposit {
	deposit := types.Deposit{
		ID:            string(d.ID),
		AccountName:   d.AccountName,
		AccountNumber: d.AccountNumber,
		Amount:        decimal.Decimal(d.Amount),
		Status:        types.DepositStatus(d.Status),
		ProofKey:      d.ProofKey,
		CreatedAt:     d.CreatedAt.UTC(),
	}
	if d.ApprovedAt != nil {
		t := d.ApprovedAt.UTC()
		deposit.ApprovedAt = &t
	}
	if d.RejectedAt != nil {
		t := d.RejectedAt.UTC()
		deposit.RejectedAt = &t
	}
	return deposit
}

type DepositRepository struct {
	coll *mongo.Collection
}

func NewDepositRepository(db *mongo.Database) *DepositRepository {
	return &DepositRepository{coll: db.Collection(depositsCollection)}
}

func (r *DepositRepository) Create(ctx context.Context, deposit types.Deposit) (types.Deposit, error) {
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	doc := depositDocument{
		ID:            documentID(deposit.ID),
		AccountName:   deposit.AccountName,
		AccountNumber: deposit.AccountNumber,
		Amount:        amount(deposit.Amount),
		Status:        string(deposit.Status),
		CreatedAt:     deposit.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if isDuplicateKey(err) {
			return types.Deposit{}, store.ErrAlreadyExists
		}
		return types.Deposit{}, err
	}
	return deposit, nil
}

func (r *DepositRepository) Get(ctx context.Context, id string) (types.Deposit, error) {
	var doc depositDocument
	if err := r.coll.FindOne(ctx, idFilter(id)).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return types.Deposit{}, store.ErrNotFound
		}
		return types.Deposit{}, err
	}
	return doc.toDeposit(), nil
}

// List returns the deposits matching the filter, newest first.
func (r *DepositRepository) List(ctx context.Context, filter types.DepositFilter) ([]types.Deposit, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.AccountName != "" {
		query["accountName"] = filter.AccountName
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	deposits := make([]types.Deposit, 0)
	for cursor.Next(ctx) {
		var doc depositDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		deposits = append(deposits, doc.toDeposit())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return deposits, nil
}

// Transition moves a pending deposit to a terminal status with a single
// FindOneAndUpdate conditioned on status=pending.
func (r *DepositRepository) Transition(ctx context.Context, id string, to types.DepositStatus, at time.Time) (types.Deposit, error) {
	var stampField string
	switch to {
	case types.DepositApproved:
		stampField = "approvedAt"
	case types.DepositRejected:
		stampField = "rejectedAt"
	default:
		return types.Deposit{}, fmt.Errorf("invalid target status %q", to)
	}

	filter := idFilter(id)
	filter["status"] = string(types.DepositPending)
	update := bson.M{"$set": bson.M{"status": string(to), stampField: at}}

	return r.findOneAndUpdate(ctx, filter, update)
}

// AttachProof sets the proof key of a pending deposit that has none. A null
// filter value also matches documents without the field.
func (r *DepositRepository) AttachProof(ctx context.Context, id, key string) (types.Deposit, error) {
	filter := idFilter(id)
	filter["status"] = string(types.DepositPending)
	filter["proofKey"] = bson.M{"$in": bson.A{nil, ""}}
	return r.findOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"proofKey": key}})
}

// Stats folds every counter and the approved revenue into one $group stage.
func (r *DepositRepository) Stats(ctx context.Context) (types.DepositStats, error) {
	countIf := func(status types.DepositStatus) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", string(status)}}, 1, 0}}}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":      nil,
			"pending":  countIf(types.DepositPending),
			"approved": countIf(types.DepositApproved),
			"rejected": countIf(types.DepositRejected),
			"revenue": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", string(types.DepositApproved)}},
				bson.M{"$toDecimal": "$amount"},
				0,
			}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return types.DepositStats{}, err
	}
	defer cursor.Close(ctx)

	stats := types.DepositStats{TotalRevenue: decimal.Zero}
	if !cursor.Next(ctx) {
		return stats, cursor.Err()
	}

	var row struct {
		Pending  int64         `bson:"pending"`
		Approved int64         `bson:"approved"`
		Rejected int64         `bson:"rejected"`
		Revenue  bson.RawValue `bson:"revenue"`
	}
	if err := cursor.Decode(&row); err != nil {
		return types.DepositStats{}, err
	}
	revenue, err := decimalFromRaw(row.Revenue)
	if err != nil {
		return types.DepositStats{}, err
	}

	stats.Pending = row.Pending
	stats.Approved = row.Approved
	stats.Rejected = row.Rejected
	stats.TotalRevenue = revenue
	return stats, nil
}

func (r *DepositRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (types.Deposit, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc depositDocument
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return types.Deposit{}, store.ErrNotFound
		}
		return types.Deposit{}, err
	}
	return doc.toDeposit(), nil
}
