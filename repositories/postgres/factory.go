package postgres

import (
	"context"

	"github.com/upb/llm-governance-gateway/config"
	"github.com/upb/llm-governance-gateway/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories sharing one connection pool
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the database
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory on an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// InitSchema creates the tables used by the gateway
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		AuditRecords: NewAuditRepository(f.db, f.logger),
	}
}

// NewQuotaLedger creates a ledger bound to this factory's pool
func (f *RepositoryFactory) NewQuotaLedger() *QuotaLedger {
	return NewQuotaLedger(f.db, f.TransactionManager(), f.logger, nil)
}

// TransactionManager returns a transaction manager
func (f *RepositoryFactory) TransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// DB returns the database connection
func (f *RepositoryFactory) DB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
