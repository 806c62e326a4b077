// Package guardrail blocks requests and responses that match a tenant's
// prohibited content patterns.
package guardrail

import (
	"context"

	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/internal/prompt"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"go.uber.org/zap"
)

// ID is the plugin identifier
const ID = "guardrail"

// Built-in violation categories
const (
	CategoryPromptInjection = "prompt_injection"
	CategoryCredentialLeak  = "credential_leak"
)

// Response metadata
const (
	MetadataContentWarning = "content_warning"
	WarningOutOfScope      = "out_of_scope"
)

// Violation describes why content was blocked
type Violation struct {
	Category string         `json:"category"`
	Phase    pipeline.Phase `json:"phase"`
	Detail   string         `json:"detail,omitempty"`
}

// Extension keys
var (
	ViolationKey  = pipeline.NewKey[Violation](ID, "violation")
	OutOfScopeKey = pipeline.NewKey[bool](ID, "out_of_scope")
)

// Plugin validates content without modifying it
type Plugin struct {
	pipeline.Base
	tenants policy.Resolver
	logger  *zap.Logger
}

// New creates the guardrail plugin
func New(tenants policy.Resolver, logger *zap.Logger, priority int) *Plugin {
	return &Plugin{
		Base:    pipeline.NewBase(ID, priority, pipeline.HookTransformRequest|pipeline.HookTransformResponse),
		tenants: tenants,
		logger:  logger,
	}
}

// TransformRequest checks the processed prompt
func (p *Plugin) TransformRequest(_ context.Context, rc *pipeline.RequestContext) error {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	if !ok {
		return nil
	}
	g := tenant.Guardrail
	text := rc.ProcessedRequest().Prompt

	if v, blocked := prohibited(g.Prohibited, text); blocked {
		return p.block(rc, v, pipeline.PhaseTransformRequest)
	}

	if g.DetectInjection {
		if d, found := prompt.StrongestInjection(text, g.InjectionThreshold); found {
			return p.block(rc, Violation{Category: CategoryPromptInjection, Detail: string(d.Type)}, pipeline.PhaseTransformRequest)
		}
	}

	if g.BlockSecrets {
		if d, found := prompt.StrongestSecret(text, prompt.DefaultSecretThreshold); found {
			return p.block(rc, Violation{Category: CategoryCredentialLeak, Detail: string(d.Type)}, pipeline.PhaseTransformRequest)
		}
	}

	if len(g.InScope) > 0 && !anyMatch(g, text) {
		pipeline.Set(rc.Extensions(), OutOfScopeKey, true)
	}
	return nil
}

// TransformResponse flags out-of-scope requests and, when configured, checks
// the final response
func (p *Plugin) TransformResponse(_ context.Context, rc *pipeline.RequestContext) error {
	resp, ok := rc.FinalResponse()
	if !ok {
		return nil
	}

	if tenant, ok := p.tenants.Tenant(rc.Profile().ID()); ok && tenant.Guardrail.CheckResponse {
		if v, blocked := prohibited(tenant.Guardrail.Prohibited, resp.Content); blocked {
			return p.block(rc, v, pipeline.PhaseTransformResponse)
		}
	}

	if outOfScope, _ := pipeline.Get(rc.Extensions(), OutOfScopeKey); outOfScope {
		rc.SetFinalResponse(resp.WithMetadata(MetadataContentWarning, WarningOutOfScope))
	}
	return nil
}

func (p *Plugin) block(rc *pipeline.RequestContext, v Violation, phase pipeline.Phase) error {
	v.Phase = phase
	pipeline.Set(rc.Extensions(), ViolationKey, v)

	p.logger.Info("content blocked",
		zap.String("tenant_id", rc.Profile().ID()),
		zap.String("category", v.Category),
		zap.String("phase", string(phase)))

	err := pipeline.NewContentViolationError("prohibited content", nil).WithDetail("category", v.Category)
	if v.Detail != "" {
		err.WithDetail("detail", v.Detail)
	}
	return err
}

func prohibited(patterns []policy.Pattern, text string) (Violation, bool) {
	for _, pat := range patterns {
		if pat.Regexp.MatchString(text) {
			return Violation{Category: pat.Category}, true
		}
	}
	return Violation{}, false
}

func anyMatch(g policy.GuardrailPolicy, text string) bool {
	for _, re := range g.InScope {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
