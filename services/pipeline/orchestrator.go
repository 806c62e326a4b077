package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/upb/llm-governance-gateway/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "governance.pipeline"

type registration struct {
	plugin Plugin
	seq    uint64
}

// Orchestrator runs requests through the ordered plugin chain and the backend.
// It is safe for concurrent use; registration changes never affect requests
// already in flight.
type Orchestrator struct {
	mu      sync.RWMutex
	plugins []registration
	seq     uint64

	invoker Invoker
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the time source used for context timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator invoking the given backend
func NewOrchestrator(invoker Invoker, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		invoker: invoker,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Register adds a plugin. A plugin whose ID is already registered is ignored.
func (o *Orchestrator) Register(p Plugin) bool {
	if p == nil {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range o.plugins {
		if r.plugin.ID() == p.ID() {
			o.logger.Warn("plugin already registered, ignoring",
				zap.String("plugin_id", p.ID()))
			return false
		}
	}

	o.seq++
	o.plugins = append(o.plugins, registration{plugin: p, seq: o.seq})
	slices.SortStableFunc(o.plugins, func(a, b registration) int {
		if c := cmp.Compare(a.plugin.Priority(), b.plugin.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	o.logger.Info("plugin registered",
		zap.String("plugin_id", p.ID()),
		zap.Int("priority", p.Priority()))
	return true
}

// RegisterAll registers each plugin in order and returns how many were added
func (o *Orchestrator) RegisterAll(plugins ...Plugin) int {
	added := 0
	for _, p := range plugins {
		if o.Register(p) {
			added++
		}
	}
	return added
}

// Unregister removes every plugin with the given ID and returns the count removed
func (o *Orchestrator) Unregister(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	before := len(o.plugins)
	o.plugins = slices.DeleteFunc(o.plugins, func(r registration) bool {
		return r.plugin.ID() == id
	})
	removed := before - len(o.plugins)
	if removed > 0 {
		o.logger.Info("plugin unregistered", zap.String("plugin_id", id))
	}
	return removed
}

// Plugins returns the registered plugins in execution order
func (o *Orchestrator) Plugins() []Plugin {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Plugin, len(o.plugins))
	for i, r := range o.plugins {
		out[i] = r.plugin
	}
	return out
}

// Process runs one request through authenticate, transform-request, the
// backend, transform-response and audit. Audit runs whether or not an earlier
// phase failed, and audit failures never change the returned result.
func (o *Orchestrator) Process(ctx context.Context, req RequestEnvelope, profile ClientProfile) (ResponseEnvelope, error) {
	plugins := o.Plugins()
	if req.ID == "" {
		req = NewRequestEnvelope("", req.Prompt, req.Parameters, req.Metadata)
	}
	rc := NewRequestContext(req, profile, o.now())

	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("tenant.id", profile.ID()),
		attribute.String("tenant.class", string(profile.Class())),
	))
	defer span.End()

	logger := o.logger.With(
		zap.String("request_id", req.ID),
		zap.String("tenant_id", profile.ID()),
	)
	logger.Debug("processing request", zap.Int("plugins", len(plugins)))

	o.runPhase(ctx, logger, plugins, PhaseAuthenticate, rc)
	if !rc.Aborted() {
		o.runPhase(ctx, logger, plugins, PhaseTransformRequest, rc)
	}
	if !rc.Aborted() {
		o.invokeBackend(ctx, logger, rc)
	}
	if !rc.Aborted() {
		o.runPhase(ctx, logger, plugins, PhaseTransformResponse, rc)
	}
	if !rc.Aborted() {
		if _, ok := rc.FinalResponse(); !ok {
			rc.Abort(NewProcessingError("pipeline finished without a final response", nil))
		}
	}
	rc.markCompleted(o.now())

	o.runAudit(ctx, logger, plugins, rc)

	if rc.Aborted() {
		err := rc.Err()
		if err == nil {
			err = NewProcessingError("request aborted without an error", nil)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordRequest(string(profile.Class()), outcome(err))
		logger.Info("request aborted",
			zap.Duration("elapsed", rc.Elapsed()),
			zap.Error(err))
		return ResponseEnvelope{}, err
	}

	resp, _ := rc.FinalResponse()
	if resp.Duration == 0 {
		resp.Duration = rc.Elapsed()
	}
	o.metrics.RecordRequest(string(profile.Class()), "success")
	logger.Info("request completed", zap.Duration("elapsed", rc.Elapsed()))
	return resp, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, logger *zap.Logger, plugins []Plugin, phase Phase, rc *RequestContext) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.phase", trace.WithAttributes(
		attribute.String("phase", string(phase)),
	))
	defer func() {
		span.End()
		o.metrics.RecordPhase(string(phase), time.Since(start))
	}()

	want := hookFor(phase)
	for _, p := range plugins {
		if !p.Hooks().Has(want) {
			continue
		}

		err := safeCall(ctx, p, phase, rc)
		if err != nil {
			rc.Abort(wrapPluginError(p.ID(), phase, err))
		}
		if !rc.Aborted() {
			continue
		}

		rc.attributeAbort(p.ID(), phase)
		span.SetAttributes(attribute.String("plugin.aborted_by", p.ID()))
		span.RecordError(rc.Err())
		span.SetStatus(codes.Error, rc.Err().Error())
		o.metrics.RecordAbort(p.ID(), string(phase))
		logger.Warn("plugin aborted request",
			zap.String("phase", string(phase)),
			zap.String("plugin_id", p.ID()),
			zap.Error(rc.Err()))
		return
	}
}

func (o *Orchestrator) invokeBackend(ctx context.Context, logger *zap.Logger, rc *RequestContext) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.phase", trace.WithAttributes(
		attribute.String("phase", string(PhaseInvokeBackend)),
	))
	defer func() {
		span.End()
		o.metrics.RecordPhase(string(PhaseInvokeBackend), time.Since(start))
	}()

	if o.invoker == nil {
		rc.Abort(NewProcessingError("no backend configured", nil))
		span.SetStatus(codes.Error, rc.Err().Error())
		return
	}

	name := invokerName(o.invoker)
	req := rc.ProcessedRequest()
	resp, err := safeInvoke(ctx, o.invoker, req)
	if err != nil {
		perr := NewProcessingError(fmt.Sprintf("backend %q failed", name), err).
			WithDetail("backend", name)
		rc.Abort(perr)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		logger.Error("backend invocation failed",
			zap.String("backend", name),
			zap.Error(err))
		return
	}
	if resp.ID == "" {
		resp.ID = req.ID
	}
	rc.setBackendResponse(resp)
}

func (o *Orchestrator) runAudit(ctx context.Context, logger *zap.Logger, plugins []Plugin, rc *RequestContext) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.phase", trace.WithAttributes(
		attribute.String("phase", string(PhaseAudit)),
	))
	defer func() {
		span.End()
		o.metrics.RecordPhase(string(PhaseAudit), time.Since(start))
	}()

	for _, p := range plugins {
		if !p.Hooks().Has(HookAudit) {
			continue
		}
		if err := safeCall(ctx, p, PhaseAudit, rc); err != nil {
			o.metrics.RecordAuditFailure(p.ID())
			span.RecordError(err)
			logger.Error("audit hook failed",
				zap.String("phase", string(PhaseAudit)),
				zap.String("plugin_id", p.ID()),
				zap.Error(err))
		}
	}
}

func safeCall(ctx context.Context, p Plugin, phase Phase, rc *RequestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewProcessingError(fmt.Sprintf("panic in %s hook: %v", phase, r), nil)
		}
	}()
	return callHook(ctx, p, phase, rc)
}

func safeInvoke(ctx context.Context, inv Invoker, req RequestEnvelope) (resp ResponseEnvelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return inv.Invoke(ctx, req)
}

func outcome(err error) string {
	if t := GetErrorType(err); t != "" {
		return string(t)
	}
	return "error"
}
