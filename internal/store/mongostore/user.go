package mongostore

import (
	"context"
	"time"

	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDocument struct {
	ID             documentID `bson:"_id"`
	Phone          string     `bson:"phone"`
	FirstName      string     `bson:"firstName"`
	LastName       string     `bson:"lastName"`
	Email          string     `bson:"email"`
	PasswordHash   string     `bson:"passwordHash,omitempty"`
	LegacyPassword string     `bson:"password,omitempty"`
	Roles          []string   `bson:"roles"`
	CreatedAt      time.Time  `bson:"createdAt"`
}

func (d userDocument) toUser() types.User {
	roles := d.Roles
	if roles == nil {
		roles = []string{}
	}
	return types.User{
		ID:             string(d.ID),
		Phone:          d.Phone,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Email:          d.Email,
		Roles:          roles,
		PasswordHash:   d.PasswordHash,
		LegacyPassword: d.LegacyPassword,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(usersCollection)}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return r.findOne(ctx, idFilter(id))
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (types.User, error) {
	return r.findOne(ctx, bson.M{"phone": phone})
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}

	doc := userDocument{
		ID:           documentID(user.ID),
		Phone:        user.Phone,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Roles:        user.Roles,
		CreatedAt:    user.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if isDuplicateKey(err) {
			return types.User{}, store.ErrAlreadyExists
		}
		return types.User{}, err
	}
	return user, nil
}

// MigrateLegacyPassword matches on the stored plaintext so only one of
// several concurrent logins rewrites the document.
func (r *UserRepository) MigrateLegacyPassword(ctx context.Context, id, legacyPassword, passwordHash string) error {
	filter := idFilter(id)
	filter["password"] = legacyPassword

	result, err := r.coll.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"passwordHash": passwordHash},
		"$unset": bson.M{"password": ""},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *UserRepository) AddRole(ctx context.Context, id, role string) error {
	result, err := r.coll.UpdateOne(ctx, idFilter(id), bson.M{
		"$addToSet": bson.M{"roles": role},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return types.User{}, store.ErrNotFound
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}
