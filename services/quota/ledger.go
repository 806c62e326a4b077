// Package quota implements the two-phase usage reservation protocol.
//
// Callers Reserve units before doing work, then either Confirm them once the
// work succeeded or Release them when it failed. Reservations count against
// the allowance, so concurrent requests can never overshoot the total.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/upb/llm-governance-gateway/models"
)

var (
	// ErrQuotaExceeded is returned when a reservation does not fit the allowance
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownPrincipal is returned for principals with no quota record
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNoReservation is returned when confirming or releasing more than is reserved
	ErrNoReservation = errors.New("no matching reservation")
)

// Ledger tracks per-principal allowances. Implementations are safe for
// concurrent use.
type Ledger interface {
	GetQuota(ctx context.Context, principal string) (models.QuotaRecord, error)
	Reserve(ctx context.Context, principal string, amount int64) error
	Confirm(ctx context.Context, principal string, amount int64) error
	Release(ctx context.Context, principal string, amount int64) error
}

// Provisioner creates or updates quota records. Existing usage and
// reservations are preserved; only the total and period change.
type Provisioner interface {
	Ensure(ctx context.Context, principal string, total int64, period models.QuotaPeriod) error
}

// Clock returns the current time
type Clock func() time.Time

func validateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
