// Package audit delivers audit records produced by the pipeline.
package audit

import (
	"context"

	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

// Sink receives one audit record per processed request
type Sink interface {
	Log(ctx context.Context, record *models.AuditRecord) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, record *models.AuditRecord) error

// Log calls f
func (f SinkFunc) Log(ctx context.Context, record *models.AuditRecord) error {
	return f(ctx, record)
}

// LoggerSink writes records as structured log entries
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink that logs at info level
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.Named("audit")}
}

// Log writes the record
func (s *LoggerSink) Log(_ context.Context, r *models.AuditRecord) error {
	fields := []zap.Field{
		zap.String("audit_id", r.ID.String()),
		zap.String("request_id", r.RequestID),
		zap.String("principal_id", r.PrincipalID),
		zap.String("tenant_class", r.TenantClass),
		zap.Bool("success", r.Success),
		zap.Int64("duration_ms", r.DurationMs),
		zap.String("original_prompt_hash", r.OriginalPromptHash),
		zap.String("processed_prompt_hash", r.ProcessedPromptHash),
		zap.Any("extensions", r.Extensions),
	}
	if r.ResponseHash != "" {
		fields = append(fields, zap.String("response_hash", r.ResponseHash))
	}
	if !r.Success {
		fields = append(fields,
			zap.String("error_type", r.ErrorType),
			zap.String("failing_plugin", r.FailingPlugin),
			zap.String("error", r.ErrorMessage))
	}
	if r.RecordHash != "" {
		fields = append(fields,
			zap.String("previous_hash", r.PreviousHash),
			zap.String("record_hash", r.RecordHash))
	}

	s.logger.Info("request audited", fields...)
	return nil
}
