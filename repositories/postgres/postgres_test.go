package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/repositories"
	"github.com/upb/llm-governance-gateway/services/quota"
	"go.uber.org/zap"
)

var quotaColumns = []string{"principal_id", "total", "used", "reserved", "reset_at", "period"}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

func newTestLedger(t *testing.T, now time.Time) (*QuotaLedger, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	txMgr := NewTransactionManager(db, zap.NewNop())
	return NewQuotaLedger(db, txMgr, zap.NewNop(), func() time.Time { return now }), mock
}

func TestQuotaLedger_Reserve(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("reserves when the amount fits", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(20), int64(18), int64(0), reset, "monthly"))
		mock.ExpectExec("UPDATE quota_records").
			WithArgs("acme", int64(18), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.Reserve(ctx, "acme", 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects when used plus reserved reaches the total", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(20), int64(18), int64(2), reset, "monthly"))
		mock.ExpectRollback()

		assert.ErrorIs(t, l.Reserve(ctx, "acme", 1), quota.ErrQuotaExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown principal", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(quotaColumns))
		mock.ExpectRollback()

		assert.ErrorIs(t, l.Reserve(ctx, "ghost", 1), quota.ErrUnknownPrincipal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount never touches the database", func(t *testing.T) {
		l, mock := newTestLedger(t, now)
		assert.ErrorIs(t, l.Reserve(ctx, "acme", 0), quota.ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuotaLedger_Settle(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("confirm moves reserved into used", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(10), int64(3), int64(2), reset, "daily"))
		mock.ExpectExec("UPDATE quota_records").
			WithArgs("acme", int64(4), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.Confirm(ctx, "acme", 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release drops the reservation", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(10), int64(3), int64(2), reset, "daily"))
		mock.ExpectExec("UPDATE quota_records").
			WithArgs("acme", int64(3), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.Release(ctx, "acme", 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release without reservation", func(t *testing.T) {
		l, mock := newTestLedger(t, now)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(10), int64(3), int64(0), reset, "daily"))
		mock.ExpectRollback()

		assert.ErrorIs(t, l.Release(ctx, "acme", 1), quota.ErrNoReservation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuotaLedger_GetQuotaAppliesRollover(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC)
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	l, mock := newTestLedger(t, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("acme").
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("acme", int64(10), int64(7), int64(1), reset, "daily"))
	mock.ExpectExec("UPDATE quota_records").
		WithArgs("acme", int64(0), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := l.GetQuota(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Used)
	assert.Equal(t, int64(1), rec.Reserved)
	assert.Equal(t, reset.AddDate(0, 0, 1), rec.ResetAt)
	assert.Equal(t, models.QuotaPeriodDaily, rec.Period)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaLedger_Ensure(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	l, mock := newTestLedger(t, now)

	mock.ExpectExec("INSERT INTO quota_records").
		WithArgs("acme", int64(100), sqlmock.AnyArg(), "daily", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Ensure(context.Background(), "acme", 100, models.QuotaPeriodDaily))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaLedger_ResetExpired(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC)
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	l, mock := newTestLedger(t, now)

	mock.ExpectQuery("FROM quota_records").WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "reset_at", "period"}).
			AddRow("acme", reset, "daily").
			AddRow("globex", reset, "hourly"))
	mock.ExpectExec("SET used = 0").
		WithArgs("acme", reset, reset.AddDate(0, 0, 1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET used = 0").
		WithArgs("globex", reset, reset.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := l.ResetExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaLedger_StartResetWorkerStops(t *testing.T) {
	l, _ := newTestLedger(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.StartResetWorker(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reset worker did not stop")
	}
}

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	record := models.NewAuditRecord("req-1", "acme", "finance").
		WithPrompts("a", "b").
		WithTiming(time.Now(), time.Now()).
		WithExtensions(map[string]any{"pii.count": 1})

	args := make([]driver.Value, 17)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_InsertFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO audit_records").WillReturnError(errors.New("disk full"))

	err := repo.Insert(context.Background(), models.NewAuditRecord("req-1", "acme", "finance"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestAuditRepository_GetByRequestID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	id := uuid.New()
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "request_id", "principal_id", "tenant_class",
		"original_prompt_hash", "processed_prompt_hash", "response_hash",
		"started_at", "completed_at", "duration_ms", "success",
		"error_message", "error_type", "failing_plugin", "extensions",
		"previous_hash", "record_hash",
	}
	mock.ExpectQuery("FROM audit_records").WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "req-1", "acme", "finance",
			models.HashContent("a"), models.HashContent("b"), nil,
			started, started.Add(time.Second), int64(1000), false,
			"quota exceeded", "quota_exceeded", "quota", []byte(`{"pii.count":1}`),
			nil, "abc",
		))

	records, err := repo.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, id, r.ID)
	assert.Empty(t, r.ResponseHash)
	assert.Equal(t, "quota", r.FailingPlugin)
	assert.Equal(t, float64(1), r.Extensions["pii.count"])
	assert.Equal(t, "abc", r.RecordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_LatestHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectQuery("record_hash FROM audit_records").WillReturnRows(sqlmock.NewRows([]string{"record_hash"}))
	hash, err := repo.LatestHash(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hash)

	mock.ExpectQuery("record_hash FROM audit_records").WillReturnRows(sqlmock.NewRows([]string{"record_hash"}).AddRow("f00d"))
	hash, err = repo.LatestHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f00d", hash)
}

func TestTransactionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM audit_records").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			_, err := GetExecutor(ctx, db).ExecContext(ctx, "DELETE FROM audit_records")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		sentinel := errors.New("boom")
		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error {
				panic("unexpected")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_InitSchemaAndHealth(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS quota_records").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.InitSchema(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	require.NoError(t, db.HealthCheck(context.Background()))
}
