package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

// MemoryLedger keeps quota records in process memory
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*models.QuotaRecord
	now     Clock
	logger  *zap.Logger
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger(logger *zap.Logger, now Clock) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		records: make(map[string]*models.QuotaRecord),
		now:     now,
		logger:  logger,
	}
}

// Ensure creates the principal's record or updates its limits
func (l *MemoryLedger) Ensure(_ context.Context, principal string, total int64, period models.QuotaPeriod) error {
	if total < 0 {
		return fmt.Errorf("quota total for %q must not be negative", principal)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[principal]
	if !ok {
		l.records[principal] = models.NewQuotaRecord(principal, total, period, l.now())
		return nil
	}
	if rec.Period != period {
		rec.Period = period
		rec.ResetAt = time.Time{}
		if period != models.QuotaPeriodNone {
			rec.ResetAt = period.Advance(period.Start(l.now()))
		}
	}
	rec.Total = total
	return nil
}

// Set replaces a record wholesale
func (l *MemoryLedger) Set(rec models.QuotaRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.PrincipalID] = &rec
}

// GetQuota returns a copy of the principal's record
func (l *MemoryLedger) GetQuota(_ context.Context, principal string) (models.QuotaRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.lookup(principal)
	if err != nil {
		return models.QuotaRecord{}, err
	}
	return *rec, nil
}

// Reserve holds amount units against the allowance
func (l *MemoryLedger) Reserve(_ context.Context, principal string, amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.lookup(principal)
	if err != nil {
		return err
	}
	if !rec.CanReserve(amount) {
		l.logger.Debug("quota reservation rejected",
			zap.String("principal", principal),
			zap.Int64("amount", amount),
			zap.Int64("available", rec.Available()))
		return ErrQuotaExceeded
	}
	rec.Reserved += amount
	return nil
}

// Confirm turns reserved units into used units
func (l *MemoryLedger) Confirm(_ context.Context, principal string, amount int64) error {
	return l.settle(principal, amount, true)
}

// Release returns reserved units to the allowance
func (l *MemoryLedger) Release(_ context.Context, principal string, amount int64) error {
	return l.settle(principal, amount, false)
}

func (l *MemoryLedger) settle(principal string, amount int64, confirm bool) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.lookup(principal)
	if err != nil {
		return err
	}
	if rec.Reserved < amount {
		return ErrNoReservation
	}
	rec.Reserved -= amount
	if confirm {
		rec.Used += amount
	}
	return nil
}

// lookup returns the live record after applying any pending rollover.
// Caller must hold l.mu.
func (l *MemoryLedger) lookup(principal string) (*models.QuotaRecord, error) {
	rec, ok := l.records[principal]
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	if rec.Rollover(l.now()) {
		l.logger.Debug("quota period rolled over",
			zap.String("principal", principal),
			zap.Time("next_reset", rec.ResetAt))
	}
	return rec, nil
}
