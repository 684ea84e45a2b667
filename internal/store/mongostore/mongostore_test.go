package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makemny/apiserver/config"
	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestDecimalFromRaw(t *testing.T) {
	d128, err := primitive.ParseDecimal128("1250.75")
	require.NoError(t, err)

	cases := []struct {
		value any
		want  string
	}{
		{d128, "1250.75"},
		{int32(40), "40"},
		{int64(9000000000), "9000000000"},
		{2.5, "2.5"},
		{"17", "17"},
	}
	for _, tc := range cases {
		typ, data, err := bson.MarshalValue(tc.value)
		require.NoError(t, err)

		got, err := decimalFromRaw(bson.RawValue{Type: typ, Value: data})
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "%v: got %s", tc.value, got)
	}

	typ, data, err := bson.MarshalValue(true)
	require.NoError(t, err)
	_, err = decimalFromRaw(bson.RawValue{Type: typ, Value: data})
	assert.Error(t, err)
}

func TestDocumentIDDecodesObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.M{"_id": oid, "accountName": "Jane", "amount": 12, "status": "pending"})
	require.NoError(t, err)

	var doc depositDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, oid.Hex(), string(doc.ID))
	assert.True(t, decimal.NewFromInt(12).Equal(decimal.Decimal(doc.Amount)))
}

func TestIDFilter(t *testing.T) {
	assert.Equal(t, bson.M{"_id": "not-hex"}, idFilter("not-hex"))

	oid := primitive.NewObjectID()
	filter := idFilter(oid.Hex())
	in := filter["_id"].(bson.M)["$in"].(bson.A)
	assert.Equal(t, bson.A{oid.Hex(), oid}, in)
}

// newTestDatabase connects to MONGO_TEST_URI and returns a throwaway database.
func newTestDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, config.MongoConfig{URI: uri, Database: fmt.Sprintf("makemny_test_%d", time.Now().UnixNano())})
	require.NoError(t, err)
	require.NoError(t, EnsureIndexes(ctx, db))

	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = db.Client().Disconnect(context.Background())
	})
	return db
}

func TestUserRepositoryIntegration(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	user, err := repo.Create(ctx, types.User{ID: uuid.NewString(), Phone: "0700", PasswordHash: "hash"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, types.User{ID: uuid.NewString(), Phone: "0700"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, repo.AddRole(ctx, user.ID, types.RoleAdmin))
	require.NoError(t, repo.AddRole(ctx, user.ID, types.RoleAdmin))

	got, err := repo.GetByPhone(ctx, "0700")
	require.NoError(t, err)
	assert.Equal(t, []string{types.RoleAdmin}, got.Roles)

	legacyID := primitive.NewObjectID()
	_, err = db.Collection(usersCollection).InsertOne(ctx, bson.M{"_id": legacyID, "phone": "0800", "password": "plain"})
	require.NoError(t, err)

	legacy, err := repo.GetByID(ctx, legacyID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "plain", legacy.LegacyPassword)

	require.NoError(t, repo.MigrateLegacyPassword(ctx, legacy.ID, "plain", "hashed"))
	assert.ErrorIs(t, repo.MigrateLegacyPassword(ctx, legacy.ID, "plain", "hashed"), store.ErrNotFound)

	migrated, err := repo.GetByID(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "hashed", migrated.PasswordHash)
	assert.Empty(t, migrated.LegacyPassword)
}

func TestDepositRepositoryIntegration(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	repo := NewDepositRepository(db)

	base := time.Now().UTC().Truncate(time.Millisecond)
	ids := make([]string, 3)
	for i, amt := range []string{"100.50", "200", "7"} {
		ids[i] = uuid.NewString()
		_, err := repo.Create(ctx, types.Deposit{
			ID:            ids[i],
			AccountName:   "Jane",
			AccountNumber: "0776",
			Amount:        decimal.RequireFromString(amt),
			Status:        types.DepositPending,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Transition(ctx, ids[0], types.DepositApproved, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err := repo.Transition(ctx, ids[1], types.DepositApproved, time.Now())
	require.NoError(t, err)
	_, err = repo.Transition(ctx, ids[1], types.DepositRejected, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	pending, err := repo.List(ctx, types.DepositFilter{Status: types.DepositPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	attached, err := repo.AttachProof(ctx, ids[2], "deposits/"+ids[2]+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "deposits/"+ids[2]+"/a.png", attached.ProofKey)
	_, err = repo.AttachProof(ctx, ids[2], "deposits/"+ids[2]+"/b.png")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.AttachProof(ctx, ids[1], "deposits/"+ids[1]+"/a.png")
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := repo.List(ctx, types.DepositFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(2), stats.Approved)
	assert.Equal(t, int64(0), stats.Rejected)
	assert.True(t, decimal.RequireFromString("300.50").Equal(stats.TotalRevenue), stats.TotalRevenue.String())
}
