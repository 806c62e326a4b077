package quota

import (
	"context"
	"errors"

	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/models"
)

// Instrumented counts ledger operations by outcome
type Instrumented struct {
	next    Ledger
	metrics *observability.Metrics
}

// WithMetrics wraps a ledger so each call is counted
func WithMetrics(next Ledger, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

func (i *Instrumented) GetQuota(ctx context.Context, principal string) (models.QuotaRecord, error) {
	rec, err := i.next.GetQuota(ctx, principal)
	i.metrics.RecordQuotaOperation("get", result(err))
	return rec, err
}

func (i *Instrumented) Reserve(ctx context.Context, principal string, amount int64) error {
	err := i.next.Reserve(ctx, principal, amount)
	i.metrics.RecordQuotaOperation("reserve", result(err))
	return err
}

func (i *Instrumented) Confirm(ctx context.Context, principal string, amount int64) error {
	err := i.next.Confirm(ctx, principal, amount)
	i.metrics.RecordQuotaOperation("confirm", result(err))
	return err
}

func (i *Instrumented) Release(ctx context.Context, principal string, amount int64) error {
	err := i.next.Release(ctx, principal, amount)
	i.metrics.RecordQuotaOperation("release", result(err))
	return err
}

// Ensure forwards to the wrapped ledger when it can provision records
func (i *Instrumented) Ensure(ctx context.Context, principal string, total int64, period models.QuotaPeriod) error {
	p, ok := i.next.(Provisioner)
	if !ok {
		return nil
	}
	return p.Ensure(ctx, principal, total, period)
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "exceeded"
	case errors.Is(err, ErrUnknownPrincipal):
		return "unknown_principal"
	case errors.Is(err, ErrNoReservation):
		return "no_reservation"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}
