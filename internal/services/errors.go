package services

import "github.com/pkg/errors"

var (
	// ErrRaceConflict is returned when a webhook event arrives inside the
	// freshness window while the checkout return is still in flight. The
	// caller should answer with a retryable status so the gateway redelivers
	// after the window has passed.
	ErrRaceConflict = errors.New("event within checkout freshness window")

	// ErrAmountMismatch is returned when the gateway reports a different
	// amount than the local order carries.
	ErrAmountMismatch = errors.New("gateway amount does not match order amount")

	// ErrOrderAlreadyPaid is returned when a checkout is started for an
	// order that has already resolved to paid.
	ErrOrderAlreadyPaid = errors.New("order is already paid")
)
