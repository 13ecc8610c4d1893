// Package domain holds sentinel errors and cross-cutting types shared by
// every layer of the quota core.
package domain

import "errors"

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidArgument is returned for missing/malformed inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPlanUnresolvable is returned when a candidate string/productId
	// does not match any catalog entry.
	ErrPlanUnresolvable = errors.New("plan unresolvable")

	// ErrNoActiveSubscription is returned when an operation requires an
	// active subscription and none exists.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrNoActiveWallet is returned when an operation requires an active
	// wallet and none can be obtained.
	ErrNoActiveWallet = errors.New("no active wallet")

	// ErrQuotaExhausted marks a normal (non-error) rejection outcome; kept
	// as a sentinel so callers can distinguish it from store failures.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrWalletClosed is returned when a reservation targets a wallet that
	// is no longer active.
	ErrWalletClosed = errors.New("wallet is closed")

	// ErrVersionConflict is a transient error surfaced by a Store on
	// optimistic-concurrency compare-and-swap failure. Callers retry the
	// whole operation.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrDuplicateEvent marks a webhook event that was already processed.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrLockNotAcquired is returned when a distributed advisory lock could
	// not be obtained within its retry budget.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
