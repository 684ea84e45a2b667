// Package memory provides in-process repositories guarded by mutexes. They
// honour the same atomicity guarantees as the database-backed repositories
// and back the test suites and STORE_BACKEND=memory.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
)

type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.User
	byPhone map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]types.User),
		byPhone: make(map[string]string),
	}
}

func (r *UserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *UserRepository) GetByPhone(_ context.Context, phone string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPhone[phone]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byPhone[user.Phone]; taken {
		return types.User{}, store.ErrAlreadyExists
	}
	if _, taken := r.byID[user.ID]; taken {
		return types.User{}, store.ErrAlreadyExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}

	user = cloneUser(user)
	r.byID[user.ID] = user
	r.byPhone[user.Phone] = user.ID
	return cloneUser(user), nil
}

// MigrateLegacyPassword swaps the plaintext password for its hash if the
// stored plaintext still equals legacyPassword.
func (r *UserRepository) MigrateLegacyPassword(_ context.Context, id, legacyPassword, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok || user.LegacyPassword == "" || user.LegacyPassword != legacyPassword {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.LegacyPassword = ""
	r.byID[id] = user
	return nil
}

func (r *UserRepository) AddRole(_ context.Context, id, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(user.Roles, role) {
		user.Roles = append(slices.Clone(user.Roles), role)
		r.byID[id] = user
	}
	return nil
}

// Seed stores a user as-is, bypassing hashing. It is used to load records
// that predate password hashing.
func (r *UserRepository) Seed(user types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user = cloneUser(user)
	r.byID[user.ID] = user
	r.byPhone[user.Phone] = user.ID
}

func cloneUser(user types.User) types.User {
	user.Roles = slices.Clone(user.Roles)
	return user
}
