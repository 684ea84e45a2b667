package services

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makemny/apiserver/internal/storage"
	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// MaxProofSize bounds an uploaded payment proof.
	MaxProofSize = 10 << 20

	// AmountScale is the number of decimal places an amount may carry.
	AmountScale = 2

	// MaxAmountIntegerDigits bounds the integer part of an amount. Together
	// with AmountScale it matches the NUMERIC(17,2) column.
	MaxAmountIntegerDigits = 15

	publishTimeout = 5 * time.Second
	cleanupTimeout = 10 * time.Second
)

var proofExtensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"application/pdf": ".pdf",
}

var proofContentTypes = map[string]string{
	".png": "image/png",
	".jpg": "image/jpeg",
	".pdf": "application/pdf",
}

// DepositRepository defines persistence operations for deposits.
type DepositRepository interface {
	Create(ctx context.Context, deposit types.Deposit) (types.Deposit, error)
	Get(ctx context.Context, id string) (types.Deposit, error)
	List(ctx context.Context, filter types.DepositFilter) ([]types.Deposit, error)
	Transition(ctx context.Context, id string, to types.DepositStatus, at time.Time) (types.Deposit, error)
	AttachProof(ctx context.Context, id, key string) (types.Deposit, error)
	Stats(ctx context.Context) (types.DepositStats, error)
}

// EventPublisher delivers deposit events to a broker channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ProofStorage keeps payment proof objects.
type ProofStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SubmitInput carries the fields of a deposit request.
type SubmitInput struct {
	AccountName   string
	AccountNumber string
	Amount        decimal.Decimal
}

// Proof is an opened payment proof. The caller closes Body.
type Proof struct {
	Key         string
	ContentType string
	Body        io.ReadCloser
}

// DepositService encapsulates the deposit ledger use-cases.
type DepositService struct {
	repo      DepositRepository
	logger    zerolog.Logger
	publisher EventPublisher
	channel   string
	proofs    ProofStorage
	now       func() time.Time
}

type DepositServiceOption func(*DepositService)

// WithEventPublisher publishes lifecycle events to the channel after every
// committed change.
func WithEventPublisher(publisher EventPublisher, channel string) DepositServiceOption {
	return func(s *DepositService) {
		s.publisher = publisher
		s.channel = channel
	}
}

// WithProofStorage enables payment proof uploads.
func WithProofStorage(proofs ProofStorage) DepositServiceOption {
	return func(s *DepositService) {
		s.proofs = proofs
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) DepositServiceOption {
	return func(s *DepositService) {
		s.now = now
	}
}

func NewDepositService(repo DepositRepository, logger zerolog.Logger, opts ...DepositServiceOption) *DepositService {
	s := &DepositService{
		repo:   repo,
		logger: logger.With().Str("component", "deposit_service").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProofsEnabled reports whether a proof storage backend is configured.
func (s *DepositService) ProofsEnabled() bool {
	return s.proofs != nil
}

// Submit validates the request and records a pending deposit.
func (s *DepositService) Submit(ctx context.Context, in SubmitInput) (types.Deposit, error) {
	accountName := strings.TrimSpace(in.AccountName)
	accountNumber := strings.TrimSpace(in.AccountNumber)
	if accountName == "" || accountNumber == "" {
		return types.Deposit{}, invalidInput("missing account name or account number")
	}
	amount, err := normalizeAmount(in.Amount)
	if err != nil {
		return types.Deposit{}, err
	}

	deposit, err := s.repo.Create(ctx, types.Deposit{
		ID:            uuid.NewString(),
		AccountName:   accountName,
		AccountNumber: accountNumber,
		Amount:        amount,
		Status:        types.DepositPending,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return types.Deposit{}, storeUnavailable(err)
	}

	s.publish(ctx, types.EventDepositSubmitted, deposit)
	return deposit, nil
}

// normalizeAmount accepts positive amounts with at most AmountScale decimal
// places and MaxAmountIntegerDigits integer digits. The exponent is checked
// before any arithmetic, so values like 1e100000000 are rejected without
// being expanded.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Decimal{}, invalidInput("amount must be greater than zero")
	}

	exp := int(amount.Exponent())
	if exp > MaxAmountIntegerDigits || exp < -(AmountScale+MaxAmountIntegerDigits) {
		return decimal.Decimal{}, invalidInput("amount is out of range")
	}
	if amount.NumDigits()+exp > MaxAmountIntegerDigits {
		return decimal.Decimal{}, invalidInput("amount is out of range")
	}

	truncated := amount.Truncate(AmountScale)
	if !truncated.Equal(amount) {
		return decimal.Decimal{}, invalidInput("amount must have at most two decimal places")
	}
	return truncated, nil
}

// List returns deposits in the given status ("" or "all" for every status),
// newest first.
func (s *DepositService) List(ctx context.Context, status string) ([]types.Deposit, error) {
	parsed, err := types.ParseDepositStatus(status)
	if err != nil {
		return nil, invalidInput(err.Error())
	}
	return s.list(ctx, types.DepositFilter{Status: parsed})
}

// ListApproved returns the approved deposits of one account holder.
func (s *DepositService) ListApproved(ctx context.Context, accountName string) ([]types.Deposit, error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return nil, invalidInput("missing account name")
	}
	return s.list(ctx, types.DepositFilter{Status: types.DepositApproved, AccountName: accountName})
}

func (s *DepositService) list(ctx context.Context, filter types.DepositFilter) ([]types.Deposit, error) {
	deposits, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return deposits, nil
}

func (s *DepositService) Get(ctx context.Context, id string) (types.Deposit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Deposit{}, ErrNotFound
	}

	deposit, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Deposit{}, ErrNotFound
		}
		return types.Deposit{}, storeUnavailable(err)
	}
	return deposit, nil
}

// Approve moves a pending deposit to approved.
func (s *DepositService) Approve(ctx context.Context, id string) (types.Deposit, error) {
	return s.resolve(ctx, id, types.DepositApproved, types.EventDepositApproved)
}

// Reject moves a pending deposit to rejected.
func (s *DepositService) Reject(ctx context.Context, id string) (types.Deposit, error) {
	return s.resolve(ctx, id, types.DepositRejected, types.EventDepositRejected)
}

func (s *DepositService) resolve(ctx context.Context, id string, to types.DepositStatus, event types.DepositEventType) (types.Deposit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Deposit{}, ErrNotFoundOrAlreadyResolved
	}

	deposit, err := s.repo.Transition(ctx, id, to, s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Deposit{}, ErrNotFoundOrAlreadyResolved
		}
		return types.Deposit{}, storeUnavailable(err)
	}

	s.logger.Info().Str("deposit_id", deposit.ID).Str("status", string(deposit.Status)).Msg("deposit resolved")
	s.publish(ctx, event, deposit)
	return deposit, nil
}

// Stats returns a real-time snapshot of the ledger.
func (s *DepositService) Stats(ctx context.Context) (types.DepositStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return types.DepositStats{}, storeUnavailable(err)
	}
	return stats, nil
}

// AttachProof stores the payment proof of a pending deposit. A deposit takes
// one proof; later uploads fail with ErrProofAlreadyAttached. contentType
// must be one of PNG, JPEG or PDF.
func (s *DepositService) AttachProof(ctx context.Context, id string, r io.Reader, size int64, contentType string) (types.Deposit, error) {
	if s.proofs == nil {
		return types.Deposit{}, errors.New("proof storage is not configured")
	}
	ext, ok := proofExtensions[contentType]
	if !ok {
		return types.Deposit{}, invalidInput("proof must be a PNG, JPEG or PDF file")
	}
	if size <= 0 || size > MaxProofSize {
		return types.Deposit{}, invalidInput("proof must be between 1 byte and 10 MiB")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Deposit{}, ErrNotFoundOrAlreadyResolved
		}
		return types.Deposit{}, err
	}
	if err := proofConflict(current); err != nil {
		return types.Deposit{}, err
	}

	// Every upload gets its own key, so removing an upload that lost a race
	// never touches an object another record references.
	key := path.Join("deposits", current.ID, uuid.NewString()+ext)
	if err := s.proofs.Put(ctx, key, r, size, contentType); err != nil {
		return types.Deposit{}, storeUnavailable(err)
	}

	deposit, err := s.repo.AttachProof(ctx, current.ID, key)
	if err != nil {
		s.deleteProof(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return types.Deposit{}, s.classifyAttachFailure(ctx, current.ID)
		}
		return types.Deposit{}, storeUnavailable(err)
	}
	return deposit, nil
}

// classifyAttachFailure explains why the conditional attach matched nothing.
func (s *DepositService) classifyAttachFailure(ctx context.Context, id string) error {
	latest, err := s.repo.Get(ctx, id)
	if err != nil {
		return ErrNotFoundOrAlreadyResolved
	}
	if err := proofConflict(latest); err != nil {
		return err
	}
	return ErrNotFoundOrAlreadyResolved
}

func proofConflict(d types.Deposit) error {
	if d.Status != types.DepositPending {
		return ErrNotFoundOrAlreadyResolved
	}
	if d.ProofKey != "" {
		return ErrProofAlreadyAttached
	}
	return nil
}

// OpenProof opens the payment proof of a deposit.
func (s *DepositService) OpenProof(ctx context.Context, id string) (Proof, error) {
	if s.proofs == nil {
		return Proof{}, ErrNotFound
	}

	deposit, err := s.Get(ctx, id)
	if err != nil {
		return Proof{}, err
	}
	if deposit.ProofKey == "" {
		return Proof{}, ErrNotFound
	}

	body, err := s.proofs.Get(ctx, deposit.ProofKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Proof{}, ErrNotFound
		}
		return Proof{}, storeUnavailable(err)
	}

	contentType, ok := proofContentTypes[path.Ext(deposit.ProofKey)]
	if !ok {
		contentType = "application/octet-stream"
	}
	return Proof{Key: deposit.ProofKey, ContentType: contentType, Body: body}, nil
}

func (s *DepositService) deleteProof(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.proofs.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("delete orphaned proof failed")
	}
}

// publish is best effort. The change is already committed, so a broker
// failure is only logged. The request context may be cancelled as soon as the
// client goes away; the event is still sent, bounded by publishTimeout.
func (s *DepositService) publish(ctx context.Context, eventType types.DepositEventType, deposit types.Deposit) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := types.NewDepositEvent(eventType, deposit, s.now().UTC())
	payload, err := event.Marshal()
	if err != nil {
		s.logger.Error().Err(err).Str("deposit_id", deposit.ID).Msg("encode deposit event failed")
		return
	}

	if _, err := s.publisher.Publish(ctx, s.channel, payload, event.Attributes()); err != nil {
		s.logger.Warn().Err(err).
			Str("deposit_id", deposit.ID).
			Str("event", string(eventType)).
			Msg("publish deposit event failed")
	}
}
