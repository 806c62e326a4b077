package quota

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

//go:embed ledger.lua
var ledgerLuaScript string

//go:embed ensure.lua
var ensureLuaScript string

const (
	opGet     = "get"
	opReserve = "reserve"
	opConfirm = "confirm"
	opRelease = "release"
)

// RedisLedger stores one hash per principal and mutates it through a Lua
// script so every operation is atomic across gateway replicas
type RedisLedger struct {
	client    redis.UniversalClient
	script    *redis.Script
	ensure    *redis.Script
	keyPrefix string
	now       Clock
	logger    *zap.Logger
}

// NewRedisLedger creates a Redis-backed ledger.
// keyPrefix is prepended to every principal key (e.g. "quota:v1:").
func NewRedisLedger(client redis.UniversalClient, keyPrefix string, logger *zap.Logger, now Clock) *RedisLedger {
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{
		client:    client,
		script:    redis.NewScript(ledgerLuaScript),
		ensure:    redis.NewScript(ensureLuaScript),
		keyPrefix: keyPrefix,
		now:       now,
		logger:    logger,
	}
}

// Ensure creates the principal's hash or updates its limits, keeping usage.
// A changed period moves reset_at to the end of the current window.
func (l *RedisLedger) Ensure(ctx context.Context, principal string, total int64, period models.QuotaPeriod) error {
	if total < 0 {
		return fmt.Errorf("quota total for %q must not be negative", principal)
	}

	key := l.keyPrefix + principal
	var resetAt int64
	if period != models.QuotaPeriodNone && period != "" {
		resetAt = period.Advance(period.Start(l.now())).UnixMilli()
	}

	err := l.ensure.Run(ctx, l.client, []string{key}, total, string(period), resetAt).Err()
	if err != nil {
		return fmt.Errorf("failed to provision quota for %q: %w", principal, err)
	}
	return nil
}

// GetQuota returns the principal's record after applying any rollover
func (l *RedisLedger) GetQuota(ctx context.Context, principal string) (models.QuotaRecord, error) {
	rec, _, err := l.run(ctx, opGet, principal, 0)
	return rec, err
}

// Reserve holds amount units against the allowance
func (l *RedisLedger) Reserve(ctx context.Context, principal string, amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	_, ok, err := l.run(ctx, opReserve, principal, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// Confirm turns reserved units into used units
func (l *RedisLedger) Confirm(ctx context.Context, principal string, amount int64) error {
	return l.settle(ctx, opConfirm, principal, amount)
}

// Release returns reserved units to the allowance
func (l *RedisLedger) Release(ctx context.Context, principal string, amount int64) error {
	return l.settle(ctx, opRelease, principal, amount)
}

func (l *RedisLedger) settle(ctx context.Context, op, principal string, amount int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	_, ok, err := l.run(ctx, op, principal, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoReservation
	}
	return nil
}

func (l *RedisLedger) run(ctx context.Context, op, principal string, amount int64) (models.QuotaRecord, bool, error) {
	now := l.now()
	result, err := l.script.Run(ctx, l.client,
		[]string{l.keyPrefix + principal},
		op,                                       // ARGV[1]
		amount,                                   // ARGV[2]
		now.UnixMilli(),                          // ARGV[3]
		nextReset(models.QuotaPeriodHourly, now), // ARGV[4]
		nextReset(models.QuotaPeriodDaily, now),  // ARGV[5]
		nextReset(models.QuotaPeriodMonthly, now), // ARGV[6]
	).Int64Slice()
	if err != nil {
		return models.QuotaRecord{}, false, fmt.Errorf("quota script %s failed: %w", op, err)
	}
	if len(result) != 5 {
		return models.QuotaRecord{}, false, fmt.Errorf("quota script %s returned %d values", op, len(result))
	}

	status := result[0]
	if status < 0 {
		return models.QuotaRecord{}, false, ErrUnknownPrincipal
	}

	rec := models.QuotaRecord{
		PrincipalID: principal,
		Total:       result[1],
		Used:        result[2],
		Reserved:    result[3],
	}
	if result[4] > 0 {
		rec.ResetAt = time.UnixMilli(result[4]).UTC()
	}
	if op == opGet {
		period, err := l.client.HGet(ctx, l.keyPrefix+principal, "period").Result()
		if err != nil && err != redis.Nil {
			return models.QuotaRecord{}, false, fmt.Errorf("failed to read quota period: %w", err)
		}
		rec.Period, _ = models.ParseQuotaPeriod(period)
	}

	if status == 0 {
		l.logger.Debug("quota operation rejected",
			zap.String("op", op),
			zap.String("principal", principal),
			zap.Int64("amount", amount),
			zap.Int64("available", rec.Available()))
	}
	return rec, status == 1, nil
}

func nextReset(p models.QuotaPeriod, now time.Time) int64 {
	return p.Advance(p.Start(now)).UnixMilli()
}

// Close closes the Redis connection
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
