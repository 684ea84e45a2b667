package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Deposit represents a user-submitted request to add funds.
// It stays pending until an admin approves or rejects it exactly once.
type Deposit struct {
	// ID is the opaque identifier generated when the deposit is submitted.
	ID string `json:"id" db:"id"`

	// AccountName is the name of the account holder that sent the funds.
	AccountName string `json:"accountName" db:"account_name"`

	// AccountNumber is the paying account or mobile money number.
	AccountNumber string `json:"accountNumber" db:"account_number"`

	// Amount is the deposited amount. It is always positive.
	Amount decimal.Decimal `json:"amount" db:"amount"`

	// Status is the current lifecycle state of the deposit.
	Status DepositStatus `json:"status" db:"status"`

	// ProofKey is the object storage key of the uploaded payment proof.
	// Empty when no proof was attached.
	ProofKey string `json:"proofKey,omitempty" db:"proof_key"`

	// CreatedAt is the timestamp when the deposit was submitted.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// ApprovedAt is set once, when the deposit transitions to approved.
	ApprovedAt *time.Time `json:"approvedAt,omitempty" db:"approved_at"`

	// RejectedAt is set once, when the deposit transitions to rejected.
	RejectedAt *time.Time `json:"rejectedAt,omitempty" db:"rejected_at"`
}

// MarshalJSON renders Amount as a JSON number, matching what clients submit.
func (d Deposit) MarshalJSON() ([]byte, error) {
	type alias Deposit
	return json.Marshal(struct {
		alias
		Amount json.Number `json:"amount"`
	}{alias(d), jsonNumber(d.Amount)})
}

// DepositStats is a consistent snapshot of the ledger.
type DepositStats struct {
	Pending      int64           `json:"pending"`
	Approved     int64           `json:"approved"`
	Rejected     int64           `json:"rejected"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
}

func (s DepositStats) MarshalJSON() ([]byte, error) {
	type alias DepositStats
	return json.Marshal(struct {
		alias
		TotalRevenue json.Number `json:"totalRevenue"`
	}{alias(s), jsonNumber(s.TotalRevenue)})
}

// jsonNumber formats a decimal without the quotes decimal.Decimal uses by
// default. Amounts are bounded before they are stored, so String never
// expands an unbounded exponent here.
func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// DepositFilter narrows a deposit listing. Zero values match everything.
type DepositFilter struct {
	Status      DepositStatus
	AccountName string
}

// Matches reports whether the deposit satisfies the filter.
func (f DepositFilter) Matches(d Deposit) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.AccountName != "" && d.AccountName != f.AccountName {
		return false
	}
	return true
}

// DepositStatus represents the lifecycle state of a deposit.
type DepositStatus string

// Supported deposit statuses.
const (
	// DepositPending is the initial state, awaiting an admin decision.
	DepositPending DepositStatus = "pending"

	// DepositApproved is terminal; the amount counts towards revenue.
	DepositApproved DepositStatus = "approved"

	// DepositRejected is terminal.
	DepositRejected DepositStatus = "rejected"
)

// ParseDepositStatus converts a query value into a status. The empty string
// and "all" both map to the zero status, which matches every deposit.
func ParseDepositStatus(raw string) (DepositStatus, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "", "all":
		return "", nil
	case string(DepositPending), string(DepositApproved), string(DepositRejected):
		return DepositStatus(s), nil
	default:
		return "", fmt.Errorf("unknown deposit status %q", raw)
	}
}

// IsTerminal reports whether no further transition is defined.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositApproved || s == DepositRejected
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	return s == DepositPending && next.IsTerminal()
}

// DepositEventType names a deposit lifecycle event.
type DepositEventType string

const (
	EventDepositSubmitted DepositEventType = "deposit.submitted"
	EventDepositApproved  DepositEventType = "deposit.approved"
	EventDepositRejected  DepositEventType = "deposit.rejected"
)

// DepositEvent is published on the message queue after a committed change.
type DepositEvent struct {
	Type        DepositEventType `json:"type"`
	DepositID   string           `json:"depositId"`
	AccountName string           `json:"accountName"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      DepositStatus    `json:"status"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

func (e DepositEvent) MarshalJSON() ([]byte, error) {
	type alias DepositEvent
	return json.Marshal(struct {
		alias
		Amount json.Number `json:"amount"`
	}{alias(e), jsonNumber(e.Amount)})
}

// NewDepositEvent builds the event describing the deposit's current state.
func NewDepositEvent(eventType DepositEventType, d Deposit, at time.Time) DepositEvent {
	return DepositEvent{
		Type:        eventType,
		DepositID:   d.ID,
		AccountName: d.AccountName,
		Amount:      d.Amount,
		Status:      d.Status,
		OccurredAt:  at,
	}
}

// Attributes returns the message attributes used for routing on the broker.
func (e DepositEvent) Attributes() map[string]string {
	return map[string]string{
		"type":       string(e.Type),
		"deposit_id": e.DepositID,
	}
}

// Marshal encodes the event as the message payload.
func (e DepositEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
