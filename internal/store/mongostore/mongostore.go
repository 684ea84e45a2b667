// Package mongostore implements the user and deposit repositories on MongoDB.
//
// Field names follow the documents written by earlier versions of the service
// (camelCase, ObjectID or string _id, numeric or Decimal128 amounts), so
// existing collections can be served without a data migration.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makemny/apiserver/config"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection    = "users"
	depositsCollection = "deposits"

	defaultConnectTimeout = 10 * time.Second
)

// Connect opens a client, verifies the primary is reachable and returns the
// configured database.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(defaultConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client.Database(cfg.Database), nil
}

// EnsureIndexes creates the indexes the repositories rely on. The unique
// phone index is what makes registration exactly-once.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("phone_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = db.Collection(depositsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "accountName", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create deposits indexes: %w", err)
	}
	return nil
}

// documentID decodes both string and ObjectID identifiers into their string
// form.
type documentID string

func (id documentID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(string(id))
}

func (id *documentID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	if oid, ok := raw.ObjectIDOK(); ok {
		*id = documentID(oid.Hex())
		return nil
	}
	if s, ok := raw.StringValueOK(); ok {
		*id = documentID(s)
		return nil
	}
	return fmt.Errorf("unsupported _id type %s", t)
}

// idFilter matches a document by id. Hex ids may belong to documents keyed by
// ObjectID, so both forms are tried.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

// amount decodes numeric BSON values of any width into a decimal.
type amount decimal.Decimal

func (a amount) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(decimal.Decimal(a).String())
	if err != nil {
		return 0, nil, err
	}
	return bson.MarshalValue(d128)
}

func (a *amount) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	d, err := decimalFromRaw(bson.RawValue{Type: t, Value: data})
	if err != nil {
		return err
	}
	*a = amount(d)
	return nil
}

func decimalFromRaw(raw bson.RawValue) (decimal.Decimal, error) {
	switch raw.Type {
	case bsontype.Decimal128:
		return decimal.NewFromString(raw.Decimal128().String())
	case bsontype.Int32:
		return decimal.NewFromInt32(raw.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(raw.Int64()), nil
	case bsontype.Double:
		return decimal.NewFromFloat(raw.Double()), nil
	case bsontype.String:
		return decimal.NewFromString(raw.StringValue())
	case bsontype.Null, bsontype.Undefined, 0:
		return decimal.Zero, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported amount type %s", raw.Type)
	}
}

func isDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
