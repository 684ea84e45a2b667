package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"github.com/shopspring/decimal"
)

type DepositRepository struct {
	mu       sync.RWMutex
	deposits map[string]types.Deposit
}

func NewDepositRepository() *DepositRepository {
	return &DepositRepository{deposits: make(map[string]types.Deposit)}
}

func (r *DepositRepository) Create(_ context.Context, deposit types.Deposit) (types.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.deposits[deposit.ID]; taken {
		return types.Deposit{}, store.ErrAlreadyExists
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	deposit = cloneDeposit(deposit)
	r.deposits[deposit.ID] = deposit
	return cloneDeposit(deposit), nil
}

func (r *DepositRepository) Get(_ context.Context, id string) (types.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deposit, ok := r.deposits[id]
	if !ok {
		return types.Deposit{}, store.ErrNotFound
	}
	return cloneDeposit(deposit), nil
}

// List returns the deposits matching the filter, newest first.
func (r *DepositRepository) List(_ context.Context, filter types.DepositFilter) ([]types.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deposits := make([]types.Deposit, 0, len(r.deposits))
	for _, deposit := range r.deposits {
		if filter.Matches(deposit) {
			deposits = append(deposits, cloneDeposit(deposit))
		}
	}

	slices.SortFunc(deposits, func(a, b types.Deposit) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return deposits, nil
}

// Transition moves a pending deposit to a terminal status. The check and the
// write happen under the same lock.
func (r *DepositRepository) Transition(_ context.Context, id string, to types.DepositStatus, at time.Time) (types.Deposit, error) {
	if !types.DepositPending.CanTransitionTo(to) {
		return types.Deposit{}, fmt.Errorf("invalid target status %q", to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deposit, ok := r.deposits[id]
	if !ok || !deposit.Status.CanTransitionTo(to) {
		return types.Deposit{}, store.ErrNotFound
	}

	deposit.Status = to
	stamp := at
	switch to {
	case types.DepositApproved:
		deposit.ApprovedAt = &stamp
	case types.DepositRejected:
		deposit.RejectedAt = &stamp
	}
	r.deposits[id] = deposit
	return cloneDeposit(deposit), nil
}

func (r *DepositRepository) AttachProof(_ context.Context, id, key string) (types.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deposit, ok := r.deposits[id]
	if !ok || deposit.Status != types.DepositPending || deposit.ProofKey != "" {
		return types.Deposit{}, store.ErrNotFound
	}
	deposit.ProofKey = key
	r.deposits[id] = deposit
	return cloneDeposit(deposit), nil
}

// Stats computes every figure under a single read lock.
func (r *DepositRepository) Stats(_ context.Context) (types.DepositStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.DepositStats{TotalRevenue: decimal.Zero}
	for _, deposit := range r.deposits {
		switch deposit.Status {
		case types.DepositPending:
			stats.Pending++
		case types.DepositApproved:
			stats.Approved++
			stats.TotalRevenue = stats.TotalRevenue.Add(deposit.Amount)
		case types.DepositRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

func cloneDeposit(deposit types.Deposit) types.Deposit {
	if deposit.ApprovedAt != nil {
		t := *deposit.ApprovedAt
		deposit.ApprovedAt = &t
	}
	if deposit.RejectedAt != nil {
		t := *deposit.RejectedAt
		deposit.RejectedAt = &t
	}
	return deposit
}
