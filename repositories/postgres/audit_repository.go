package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

const auditColumns = `id, request_id, principal_id, tenant_class,
		       original_prompt_hash, processed_prompt_hash, response_hash,
		       started_at, completed_at, duration_ms, success,
		       error_message, error_type, failing_plugin, extensions,
		       previous_hash, record_hash`

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit record
func (r *AuditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	var extensions []byte
	if len(record.Extensions) > 0 {
		data, err := json.Marshal(record.Extensions)
		if err != nil {
			return fmt.Errorf("failed to encode audit extensions: %w", err)
		}
		extensions = data
	}

	query := `
		INSERT INTO audit_records (` + auditColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.PrincipalID,
		record.TenantClass,
		record.OriginalPromptHash,
		record.ProcessedPromptHash,
		nullString(record.ResponseHash),
		record.StartedAt,
		record.CompletedAt,
		record.DurationMs,
		record.Success,
		nullString(record.ErrorMessage),
		nullString(record.ErrorType),
		nullString(record.FailingPlugin),
		extensions,
		nullString(record.PreviousHash),
		nullString(record.RecordHash),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	r.logger.Debug("audit record inserted",
		zap.String("id", record.ID.String()),
		zap.String("request_id", record.RequestID))
	return nil
}

// GetByRequestID retrieves the records written for one request
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE request_id = $1
		ORDER BY seq ASC
	`
	return r.query(ctx, query, requestID)
}

// ListByPrincipal retrieves records for a principal, newest first
func (r *AuditRepository) ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE principal_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, principalID, limit, offset)
}

// LatestHash returns the hash of the chain head: the newest record that no
// other record points back to. Workers may insert out of order, so seq alone
// does not identify it.
func (r *AuditRepository) LatestHash(ctx context.Context) (string, error) {
	query := `
		SELECT r.record_hash FROM audit_records r
		WHERE r.record_hash IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM audit_records n WHERE n.previous_hash = r.record_hash)
		ORDER BY r.seq DESC
		LIMIT 1
	`

	var hash sql.NullString
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest audit hash: %w", err)
	}
	return hash.String, nil
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditRecord, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		record := &models.AuditRecord{}
		var (
			responseHash, errorMessage, errorType, failingPlugin sql.NullString
			previousHash, recordHash                             sql.NullString
			extensions                                           []byte
		)

		if err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.PrincipalID,
			&record.TenantClass,
			&record.OriginalPromptHash,
			&record.ProcessedPromptHash,
			&responseHash,
			&record.StartedAt,
			&record.CompletedAt,
			&record.DurationMs,
			&record.Success,
			&errorMessage,
			&errorType,
			&failingPlugin,
			&extensions,
			&previousHash,
			&recordHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.ResponseHash = responseHash.String
		record.ErrorMessage = errorMessage.String
		record.ErrorType = errorType.String
		record.FailingPlugin = failingPlugin.String
		record.PreviousHash = previousHash.String
		record.RecordHash = recordHash.String
		if len(extensions) > 0 {
			if err := json.Unmarshal(extensions, &record.Extensions); err != nil {
				return nil, fmt.Errorf("failed to decode audit extensions: %w", err)
			}
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
