package pipeline

import (
	"context"
	"sync"
)

type hookFunc func(ctx context.Context, rc *RequestContext) error

// recordingPlugin appends "<id>:<phase>" to a shared journal for every hook call
type recordingPlugin struct {
	Base
	journal *journal

	onAuthenticate      hookFunc
	onTransformRequest  hookFunc
	onTransformResponse hookFunc
	onAudit             hookFunc
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(s string) int {
	n := 0
	for _, e := range j.all() {
		if e == s {
			n++
		}
	}
	return n
}

func newRecordingPlugin(id string, priority int, hooks Hooks, j *journal) *recordingPlugin {
	return &recordingPlugin{Base: NewBase(id, priority, hooks), journal: j}
}

func (p *recordingPlugin) run(ctx context.Context, rc *RequestContext, phase Phase, fn hookFunc) error {
	p.journal.add(p.ID() + ":" + string(phase))
	if fn != nil {
		return fn(ctx, rc)
	}
	return nil
}

func (p *recordingPlugin) Authenticate(ctx context.Context, rc *RequestContext) error {
	return p.run(ctx, rc, PhaseAuthenticate, p.onAuthenticate)
}

func (p *recordingPlugin) TransformRequest(ctx context.Context, rc *RequestContext) error {
	return p.run(ctx, rc, PhaseTransformRequest, p.onTransformRequest)
}

func (p *recordingPlugin) TransformResponse(ctx context.Context, rc *RequestContext) error {
	return p.run(ctx, rc, PhaseTransformResponse, p.onTransformResponse)
}

func (p *recordingPlugin) Audit(ctx context.Context, rc *RequestContext) error {
	return p.run(ctx, rc, PhaseAudit, p.onAudit)
}

type countingInvoker struct {
	mu    sync.Mutex
	calls int
	last  RequestEnvelope
	fn    func(req RequestEnvelope) (ResponseEnvelope, error)
}

func (c *countingInvoker) Invoke(_ context.Context, req RequestEnvelope) (ResponseEnvelope, error) {
	c.mu.Lock()
	c.calls++
	c.last = req
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(req)
	}
	return ResponseEnvelope{Content: "echo: " + req.Prompt}, nil
}

func (c *countingInvoker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testProfile() ClientProfile {
	return NewClientProfile("acme", TenantClassEnterprise, map[string]string{"region": "eu"})
}
