package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"github.com/upb/llm-governance-gateway/services/quota"
	"go.uber.org/zap"
)

// QuotaLedger implements quota.Ledger on the quota_records table.
// Each operation locks the principal's row for the duration of a transaction.
type QuotaLedger struct {
	db     *DB
	txMgr  repositories.TransactionManager
	logger *zap.Logger
	now    quota.Clock
}

// NewQuotaLedger creates a Postgres-backed ledger
func NewQuotaLedger(db *DB, txMgr repositories.TransactionManager, logger *zap.Logger, now quota.Clock) *QuotaLedger {
	if now == nil {
		now = time.Now
	}
	return &QuotaLedger{db: db, txMgr: txMgr, logger: logger, now: now}
}

// Ensure creates the principal's row or updates its limits, keeping usage
func (l *QuotaLedger) Ensure(ctx context.Context, principal string, total int64, period models.QuotaPeriod) error {
	rec := models.NewQuotaRecord(principal, total, period, l.now())

	query := `
		INSERT INTO quota_records (principal_id, total, used, reserved, reset_at, period, updated_at)
		VALUES ($1, $2, 0, 0, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE
		SET total = EXCLUDED.total,
		    period = EXCLUDED.period,
		    reset_at = CASE WHEN quota_records.period = EXCLUDED.period
		                    THEN quota_records.reset_at ELSE EXCLUDED.reset_at END,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := GetExecutor(ctx, l.db).ExecContext(ctx, query,
		principal, total, nullTime(rec.ResetAt), string(period), l.now())
	if err != nil {
		return fmt.Errorf("failed to provision quota for %q: %w", principal, err)
	}
	return nil
}

// GetQuota returns the principal's record after applying any rollover
func (l *QuotaLedger) GetQuota(ctx context.Context, principal string) (models.QuotaRecord, error) {
	var out models.QuotaRecord
	err := l.withRecord(ctx, principal, func(rec *models.QuotaRecord) (bool, error) {
		out = *rec
		return false, nil
	})
	return out, err
}

// Reserve holds amount units against the allowance
func (l *QuotaLedger) Reserve(ctx context.Context, principal string, amount int64) error {
	if amount <= 0 {
		return quota.ErrInvalidAmount
	}
	return l.withRecord(ctx, principal, func(rec *models.QuotaRecord) (bool, error) {
		if !rec.CanReserve(amount) {
			return false, quota.ErrQuotaExceeded
		}
		rec.Reserved += amount
		return true, nil
	})
}

// Confirm turns reserved units into used units
func (l *QuotaLedger) Confirm(ctx context.Context, principal string, amount int64) error {
	return l.settle(ctx, principal, amount, true)
}

// Release returns reserved units to the allowance
func (l *QuotaLedger) Release(ctx context.Context, principal string, amount int64) error {
	return l.settle(ctx, principal, amount, false)
}

func (l *QuotaLedger) settle(ctx context.Context, principal string, amount int64, confirm bool) error {
	if amount <= 0 {
		return quota.ErrInvalidAmount
	}
	return l.withRecord(ctx, principal, func(rec *models.QuotaRecord) (bool, error) {
		if rec.Reserved < amount {
			return false, quota.ErrNoReservation
		}
		rec.Reserved -= amount
		if confirm {
			rec.Used += amount
		}
		return true, nil
	})
}

// withRecord loads and locks the row, applies rollover, runs fn and writes
// the row back when fn or the rollover changed it
func (l *QuotaLedger) withRecord(ctx context.Context, principal string, fn func(rec *models.QuotaRecord) (bool, error)) error {
	return l.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		exec := GetExecutor(ctx, l.db)

		rec, err := l.lockRecord(ctx, exec, principal)
		if err != nil {
			return err
		}

		// a failed operation rolls the reset back too; it is reapplied on the next read
		rolled := rec.Rollover(l.now())
		changed, err := fn(rec)
		if err != nil {
			return err
		}
		if !changed && !rolled {
			return nil
		}
		return l.write(ctx, exec, rec)
	})
}

func (l *QuotaLedger) lockRecord(ctx context.Context, exec Executor, principal string) (*models.QuotaRecord, error) {
	query := `
		SELECT principal_id, total, used, reserved, reset_at, period
		FROM quota_records
		WHERE principal_id = $1
		FOR UPDATE
	`

	rec := &models.QuotaRecord{}
	var resetAt sql.NullTime
	var period string
	err := exec.QueryRowContext(ctx, query, principal).Scan(
		&rec.PrincipalID,
		&rec.Total,
		&rec.Used,
		&rec.Reserved,
		&resetAt,
		&period,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrUnknownPrincipal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}
	if resetAt.Valid {
		rec.ResetAt = resetAt.Time.UTC()
	}
	rec.Period, _ = models.ParseQuotaPeriod(period)
	return rec, nil
}

func (l *QuotaLedger) write(ctx context.Context, exec Executor, rec *models.QuotaRecord) error {
	query := `
		UPDATE quota_records
		SET used = $2, reserved = $3, reset_at = $4, updated_at = $5
		WHERE principal_id = $1
	`
	if _, err := exec.ExecContext(ctx, query,
		rec.PrincipalID, rec.Used, rec.Reserved, nullTime(rec.ResetAt), l.now()); err != nil {
		return fmt.Errorf("failed to update quota record: %w", err)
	}
	return nil
}

// ResetExpired rolls every record whose period has elapsed and returns how
// many were reset
func (l *QuotaLedger) ResetExpired(ctx context.Context) (int64, error) {
	now := l.now()
	query := `
		SELECT principal_id, reset_at, period
		FROM quota_records
		WHERE period <> 'none' AND reset_at IS NOT NULL AND reset_at <= $1
	`

	rows, err := GetExecutor(ctx, l.db).QueryContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired quotas: %w", err)
	}

	var expired []models.QuotaRecord
	for rows.Next() {
		var rec models.QuotaRecord
		var period string
		if err := rows.Scan(&rec.PrincipalID, &rec.ResetAt, &period); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired quota: %w", err)
		}
		rec.Period, _ = models.ParseQuotaPeriod(period)
		expired = append(expired, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating expired quotas: %w", err)
	}

	update := `
		UPDATE quota_records
		SET used = 0, reset_at = $3, updated_at = $4
		WHERE principal_id = $1 AND reset_at = $2
	`
	var reset int64
	for _, rec := range expired {
		previous := rec.ResetAt
		rec.Rollover(now)
		result, err := GetExecutor(ctx, l.db).ExecContext(ctx, update, rec.PrincipalID, previous, rec.ResetAt, now)
		if err != nil {
			return reset, fmt.Errorf("failed to reset quota for %q: %w", rec.PrincipalID, err)
		}
		// a concurrent request may have rolled the row already
		if n, err := result.RowsAffected(); err == nil {
			reset += n
		}
	}
	return reset, nil
}

// StartResetWorker periodically resets expired quota periods until ctx is done
func (l *QuotaLedger) StartResetWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("quota reset worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("quota reset worker stopped")
			return
		case <-ticker.C:
			n, err := l.ResetExpired(ctx)
			if err != nil {
				l.logger.Error("quota reset failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Info("quota periods reset", zap.Int64("count", n))
			}
		}
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
