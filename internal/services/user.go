package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for new password hashes.
const DefaultBcryptCost = 12

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByPhone(ctx context.Context, phone string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	MigrateLegacyPassword(ctx context.Context, id, legacyPassword, passwordHash string) error
	AddRole(ctx context.Context, id, role string) error
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Phone     string
	Password  string
	FirstName string
	LastName  string
	Email     string
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo       UserRepository
	logger     zerolog.Logger
	bcryptCost int
}

type UserServiceOption func(*UserService)

// WithBcryptCost overrides the hashing work factor.
func WithBcryptCost(cost int) UserServiceOption {
	return func(s *UserService) {
		s.bcryptCost = cost
	}
}

func NewUserService(repo UserRepository, logger zerolog.Logger, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:       repo,
		logger:     logger.With().Str("component", "user_service").Logger(),
		bcryptCost: DefaultBcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account with a hashed password and no roles.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" || in.Password == "" {
		return types.User{}, invalidInput("missing phone or password")
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		ID:           uuid.NewString(),
		Phone:        phone,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		Roles:        []string{},
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return types.User{}, ErrDuplicateAccount
		}
		return types.User{}, storeUnavailable(err)
	}
	return user, nil
}

// Authenticate verifies the credentials. Records that still carry a legacy
// plaintext password are migrated to a hash on the first successful login.
func (s *UserService) Authenticate(ctx context.Context, phone, password string) (types.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return types.User{}, invalidInput("missing phone or password")
	}

	user, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, storeUnavailable(err)
	}

	switch {
	case user.PasswordHash != "":
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return types.User{}, ErrInvalidCredentials
		}
		return user, nil
	case user.LegacyPassword != "":
		if subtle.ConstantTimeCompare([]byte(user.LegacyPassword), []byte(password)) != 1 {
			return types.User{}, ErrInvalidCredentials
		}
		return s.migrateLegacyPassword(ctx, user, password)
	default:
		return types.User{}, ErrInvalidCredentials
	}
}

// migrateLegacyPassword is best effort: the credentials were already
// verified, so a failed or lost migration never fails the login.
func (s *UserService) migrateLegacyPassword(ctx context.Context, user types.User, password string) (types.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("hash legacy password failed")
		return user, nil
	}

	err = s.repo.MigrateLegacyPassword(ctx, user.ID, password, hash)
	switch {
	case err == nil:
		s.logger.Info().Str("user_id", user.ID).Msg("migrated legacy plaintext password")
		user.PasswordHash = hash
		user.LegacyPassword = ""
		return user, nil
	case errors.Is(err, store.ErrNotFound):
		// A concurrent login migrated the record first.
		if current, err := s.repo.GetByID(ctx, user.ID); err == nil {
			return current, nil
		}
		user.LegacyPassword = ""
		return user, nil
	default:
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("migrate legacy password failed")
		return user, nil
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, storeUnavailable(err)
	}
	return user, nil
}

// EnsureAdmin makes sure an account with the phone exists and has the admin
// role. It never changes the password of an existing account.
func (s *UserService) EnsureAdmin(ctx context.Context, phone, password string) (types.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return types.User{}, invalidInput("missing admin phone or password")
	}

	user, err := s.repo.GetByPhone(ctx, phone)
	switch {
	case err == nil:
		return s.grantAdmin(ctx, user)
	case !errors.Is(err, store.ErrNotFound):
		return types.User{}, storeUnavailable(err)
	}

	hash, err := s.hash(password)
	if err != nil {
		return types.User{}, err
	}

	user, err = s.repo.Create(ctx, types.User{
		ID:           uuid.NewString(),
		Phone:        phone,
		FirstName:    "Admin",
		Roles:        []string{types.RoleAdmin},
		PasswordHash: hash,
	})
	switch {
	case err == nil:
		s.logger.Info().Str("user_id", user.ID).Msg("admin user created")
		return user, nil
	case errors.Is(err, store.ErrAlreadyExists):
		// Registered concurrently; promote that account instead.
		existing, err := s.repo.GetByPhone(ctx, phone)
		if err != nil {
			return types.User{}, storeUnavailable(err)
		}
		return s.grantAdmin(ctx, existing)
	default:
		return types.User{}, storeUnavailable(err)
	}
}

func (s *UserService) grantAdmin(ctx context.Context, user types.User) (types.User, error) {
	if user.IsAdmin() {
		return user, nil
	}
	if err := s.repo.AddRole(ctx, user.ID, types.RoleAdmin); err != nil {
		return types.User{}, storeUnavailable(err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("admin role granted to existing user")
	return s.GetByID(ctx, user.ID)
}

func (s *UserService) hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", invalidInput("password too long")
		}
		return "", err
	}
	return string(hashed), nil
}
