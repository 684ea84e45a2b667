package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a request that failed validation before any
	// store access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateAccount is returned when the phone number is already registered.
	ErrDuplicateAccount = errors.New("user already exists")

	// ErrInvalidCredentials covers both an unknown phone and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrNotFound = errors.New("not found")

	// ErrNotFoundOrAlreadyResolved is returned by approve and reject when no
	// pending deposit has the given id. Unknown, malformed and already
	// resolved ids are deliberately indistinguishable.
	ErrNotFoundOrAlreadyResolved = errors.New("deposit not found or already resolved")

	// ErrProofAlreadyAttached is returned when a pending deposit already has
	// a payment proof.
	ErrProofAlreadyAttached = errors.New("deposit already has a payment proof")

	// ErrStoreUnavailable wraps any unexpected persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
