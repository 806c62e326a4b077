// Package audit records one tamper-evident audit record per request.
package audit

import (
	"context"
	"fmt"

	"github.com/upb/llm-governance-gateway/models"
	auditsvc "github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"go.uber.org/zap"
)

// ID is the plugin identifier
const ID = "audit"

// Plugin hands a record of every request to an audit sink
type Plugin struct {
	pipeline.Base
	sink   auditsvc.Sink
	logger *zap.Logger
}

// New creates the audit plugin. It should have the highest priority so the
// record includes annotations made by every other audit hook.
func New(sink auditsvc.Sink, logger *zap.Logger, priority int) *Plugin {
	return &Plugin{
		Base:   pipeline.NewBase(ID, priority, pipeline.HookAudit),
		sink:   sink,
		logger: logger,
	}
}

// Audit builds the record and logs it to the sink
func (p *Plugin) Audit(ctx context.Context, rc *pipeline.RequestContext) error {
	record := BuildRecord(rc)
	if err := p.sink.Log(ctx, record); err != nil {
		p.logger.Error("failed to record audit entry",
			zap.String("request_id", record.RequestID),
			zap.String("tenant_id", record.PrincipalID),
			zap.Error(err))
		return fmt.Errorf("audit sink: %w", err)
	}
	return nil
}

// BuildRecord converts a completed request context into an audit record
func BuildRecord(rc *pipeline.RequestContext) *models.AuditRecord {
	profile := rc.Profile()
	original := rc.OriginalRequest()

	record := models.NewAuditRecord(original.ID, profile.ID(), string(profile.Class())).
		WithPrompts(original.Prompt, rc.ProcessedRequest().Prompt).
		WithTiming(rc.StartedAt(), rc.CompletedAt()).
		WithExtensions(rc.Extensions().Snapshot())

	if err := rc.Err(); rc.Aborted() {
		plugin, _ := pipeline.FailingPlugin(err)
		record.WithOutcome(errOrAborted(err), string(pipeline.GetErrorType(err)), plugin)
		return record
	}

	record.WithOutcome(nil, "", "")
	if resp, ok := rc.FinalResponse(); ok {
		record.WithResponse(resp.Content)
	}
	return record
}

func errOrAborted(err error) error {
	if err == nil {
		return pipeline.NewProcessingError("request aborted without an error", nil)
	}
	return err
}
