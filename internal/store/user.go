package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/makemny/apiserver/types"
)

const userColumns = `id, phone, first_name, last_name, email, roles,
	COALESCE(password_hash, ''), COALESCE(legacy_password, ''), created_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

// Create inserts the user. The unique index on phone makes the uniqueness
// check and the insert a single atomic step.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}

	const query = `
		INSERT INTO users (id, phone, first_name, last_name, email, roles, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Phone,
		user.FirstName,
		user.LastName,
		user.Email,
		pq.Array(user.Roles),
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrAlreadyExists
		}
		return types.User{}, err
	}
	return user, nil
}

// MigrateLegacyPassword replaces the plaintext password with its hash. The
// row is locked while the stored plaintext is compared, so only one of
// several concurrent logins performs the migration; the others get ErrNotFound.
func (r *UserRepository) MigrateLegacyPassword(ctx context.Context, id, legacyPassword, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT legacy_password FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !current.Valid || current.String != legacyPassword {
		return ErrNotFound
	}

	const update = `
		UPDATE users
		SET password_hash = $1,
			legacy_password = NULL
		WHERE id = $2`
	if _, err := tx.ExecContext(ctx, update, passwordHash, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AddRole grants the role unless the user already has it.
func (r *UserRepository) AddRole(ctx context.Context, id, role string) error {
	const query = `
		UPDATE users
		SET roles = CASE WHEN $2 = ANY(roles) THEN roles ELSE array_append(roles, $2) END
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, role)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		pq.Array(&user.Roles),
		&user.PasswordHash,
		&user.LegacyPassword,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
