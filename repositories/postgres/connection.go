package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/llm-governance-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens and verifies a connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adopts an existing pool
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the quota and audit tables
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS quota_records (
			principal_id VARCHAR(255) PRIMARY KEY,
			total BIGINT NOT NULL CHECK (total >= 0),
			used BIGINT NOT NULL DEFAULT 0 CHECK (used >= 0),
			reserved BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
			reset_at TIMESTAMPTZ,
			period VARCHAR(20) NOT NULL DEFAULT 'none',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS audit_records (
			id UUID PRIMARY KEY,
			seq BIGSERIAL NOT NULL,
			request_id VARCHAR(255) NOT NULL,
			principal_id VARCHAR(255) NOT NULL,
			tenant_class VARCHAR(50) NOT NULL,
			original_prompt_hash CHAR(64) NOT NULL,
			processed_prompt_hash CHAR(64) NOT NULL,
			response_hash VARCHAR(64),
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			error_type VARCHAR(50),
			failing_plugin VARCHAR(100),
			extensions JSONB,
			previous_hash VARCHAR(64),
			record_hash VARCHAR(64)
		);

		CREATE INDEX IF NOT EXISTS idx_quota_records_reset_at ON quota_records(reset_at);
		CREATE INDEX IF NOT EXISTS idx_audit_records_request_id ON audit_records(request_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_principal_id ON audit_records(principal_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_seq ON audit_records(seq);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
