package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/makemny/apiserver/types"
)

const depositColumns = `id, account_name, account_number, amount, status,
	COALESCE(proof_key, ''), created_at, approved_at, rejected_at`

// DepositRepository handles persistence for deposits.
type DepositRepository struct {
	db *sql.DB
}

func NewDepositRepository(db *sql.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, deposit types.Deposit) (types.Deposit, error) {
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO deposits (id, account_name, account_number, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		deposit.ID,
		deposit.AccountName,
		deposit.AccountNumber,
		deposit.Amount,
		deposit.Status,
		deposit.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Deposit{}, ErrAlreadyExists
		}
		return types.Deposit{}, err
	}
	return deposit, nil
}

func (r *DepositRepository) Get(ctx context.Context, id string) (types.Deposit, error) {
	const query = `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`
	return scanDeposit(r.db.QueryRowContext(ctx, query, id))
}

// List returns the deposits matching the filter, newest first.
func (r *DepositRepository) List(ctx context.Context, filter types.DepositFilter) ([]types.Deposit, error) {
	const query = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR account_name = $2)
		ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, string(filter.Status), filter.AccountName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := make([]types.Deposit, 0)
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, deposit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return deposits, nil
}

// Transition moves a pending deposit to a terminal status and stamps the
// matching timestamp. The status check and the write are one statement, so
// of two concurrent transitions on the same id exactly one matches a row.
// ErrNotFound covers both unknown and already resolved ids.
func (r *DepositRepository) Transition(ctx context.Context, id string, to types.DepositStatus, at time.Time) (types.Deposit, error) {
	var query string
	switch to {
	case types.DepositApproved:
		query = `
			UPDATE deposits
			SET status = 'approved',
				approved_at = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING ` + depositColumns
	case types.DepositRejected:
		query = `
			UPDATE deposits
			SET status = 'rejected',
				rejected_at = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING ` + depositColumns
	default:
		return types.Deposit{}, fmt.Errorf("invalid target status %q", to)
	}

	return scanDeposit(r.db.QueryRowContext(ctx, query, id, at))
}

// AttachProof records the proof object key while the deposit is pending and
// has no proof yet. ErrNotFound covers every failed condition.
func (r *DepositRepository) AttachProof(ctx context.Context, id, key string) (types.Deposit, error) {
	const query = `
		UPDATE deposits
		SET proof_key = $2
		WHERE id = $1
		  AND status = 'pending'
		  AND (proof_key IS NULL OR proof_key = '')
		RETURNING ` + depositColumns
	return scanDeposit(r.db.QueryRowContext(ctx, query, id, key))
}

// Stats computes the counters and the approved revenue in a single statement,
// so every figure comes from the same snapshot.
func (r *DepositRepository) Stats(ctx context.Context) (types.DepositStats, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'approved'), 0)
		FROM deposits`
	var stats types.DepositStats
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Approved,
		&stats.Rejected,
		&stats.TotalRevenue,
	); err != nil {
		return types.DepositStats{}, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (types.Deposit, error) {
	var deposit types.Deposit
	var approvedAt, rejectedAt sql.NullTime
	err := row.Scan(
		&deposit.ID,
		&deposit.AccountName,
		&deposit.AccountNumber,
		&deposit.Amount,
		&deposit.Status,
		&deposit.ProofKey,
		&deposit.CreatedAt,
		&approvedAt,
		&rejectedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Deposit{}, ErrNotFound
		}
		return types.Deposit{}, err
	}

	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		deposit.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time.UTC()
		deposit.RejectedAt = &t
	}
	deposit.CreatedAt = deposit.CreatedAt.UTC()
	return deposit, nil
}
