package pipeline

import (
	"context"
)

// Phase identifies a stage of request processing
type Phase string

const (
	PhaseAuthenticate      Phase = "authenticate"
	PhaseTransformRequest  Phase = "transform_request"
	PhaseInvokeBackend     Phase = "invoke_backend"
	PhaseTransformResponse Phase = "transform_response"
	PhaseAudit             Phase = "audit"
)

// Hooks is the set of phases a plugin participates in
type Hooks uint8

const (
	HookAuthenticate Hooks = 1 << iota
	HookTransformRequest
	HookTransformResponse
	HookAudit

	HookNone Hooks = 0
	HookAll        = HookAuthenticate | HookTransformRequest | HookTransformResponse | HookAudit
)

// Has reports whether every hook in other is declared
func (h Hooks) Has(other Hooks) bool {
	return h&other == other
}

func hookFor(phase Phase) Hooks {
	switch phase {
	case PhaseAuthenticate:
		return HookAuthenticate
	case PhaseTransformRequest:
		return HookTransformRequest
	case PhaseTransformResponse:
		return HookTransformResponse
	case PhaseAudit:
		return HookAudit
	default:
		return HookNone
	}
}

// Plugin is a unit of request-processing behavior.
// Plugins are shared across concurrent requests and must keep all per-request
// state in RequestContext.Extensions.
type Plugin interface {
	ID() string
	Priority() int
	Hooks() Hooks

	Authenticate(ctx context.Context, rc *RequestContext) error
	TransformRequest(ctx context.Context, rc *RequestContext) error
	TransformResponse(ctx context.Context, rc *RequestContext) error
	Audit(ctx context.Context, rc *RequestContext) error
}

// Base provides identity and no-op hooks for embedding in plugins
type Base struct {
	id       string
	priority int
	hooks    Hooks
}

// NewBase creates a Base
func NewBase(id string, priority int, hooks Hooks) Base {
	return Base{id: id, priority: priority, hooks: hooks}
}

func (b Base) ID() string    { return b.id }
func (b Base) Priority() int { return b.priority }
func (b Base) Hooks() Hooks  { return b.hooks }

func (Base) Authenticate(context.Context, *RequestContext) error      { return nil }
func (Base) TransformRequest(context.Context, *RequestContext) error  { return nil }
func (Base) TransformResponse(context.Context, *RequestContext) error { return nil }
func (Base) Audit(context.Context, *RequestContext) error             { return nil }

func callHook(ctx context.Context, p Plugin, phase Phase, rc *RequestContext) error {
	switch phase {
	case PhaseAuthenticate:
		return p.Authenticate(ctx, rc)
	case PhaseTransformRequest:
		return p.TransformRequest(ctx, rc)
	case PhaseTransformResponse:
		return p.TransformResponse(ctx, rc)
	case PhaseAudit:
		return p.Audit(ctx, rc)
	default:
		return nil
	}
}
