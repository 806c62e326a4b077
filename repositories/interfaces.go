package repositories

import (
	"context"

	"github.com/upb/llm-governance-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Commits if the function succeeds, rolls back on error or panic.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// AuditRepository persists audit records
type AuditRepository interface {
	// Insert inserts a new audit record
	Insert(ctx context.Context, record *models.AuditRecord) error

	// GetByRequestID retrieves the records written for one request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditRecord, error)

	// ListByPrincipal retrieves records for a principal, newest first
	ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditRecord, error)

	// LatestHash returns the record hash of the most recent record, or "" when empty
	LatestHash(ctx context.Context) (string, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	AuditRecords AuditRepository
}
