// Package pii redacts personal data from prompts before they reach the
// backend.
package pii

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/internal/prompt"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"go.uber.org/zap"
)

// ID is the plugin identifier
const ID = "pii"

// MetadataRedacted reports how many values were redacted
const MetadataRedacted = "pii_redacted"

// RedactionsKey holds the redactions of the current request
var RedactionsKey = pipeline.NewKey[Redactions](ID, "redactions")

// Redactions maps redaction keys to the values they replaced. Every redacted
// value has its own key, also when several share a plain tag in the text.
// Originals are never serialized.
type Redactions struct {
	count      int
	categories map[string]int
	originals  map[string]prompt.Redaction
	seen       map[prompt.PIIType]int
}

func (r Redactions) add(items []prompt.Redaction) Redactions {
	out := Redactions{
		count:      r.count + len(items),
		categories: maps.Clone(r.categories),
		originals:  maps.Clone(r.originals),
		seen:       maps.Clone(r.seen),
	}
	if out.categories == nil {
		out.categories = make(map[string]int)
	}
	if out.originals == nil {
		out.originals = make(map[string]prompt.Redaction)
	}
	for _, it := range items {
		out.categories[string(it.Type)]++
		out.originals[it.Key] = it
	}
	return out
}

// Count returns the number of redacted values
func (r Redactions) Count() int {
	return r.count
}

// Categories returns the number of redactions per PII type
func (r Redactions) Categories() map[string]int {
	return maps.Clone(r.categories)
}

// Original returns the value a redaction key replaced
func (r Redactions) Original(key string) (string, bool) {
	v, ok := r.originals[key]
	return v.Original, ok
}

// Keys returns the redaction keys in sorted order
func (r Redactions) Keys() []string {
	return slices.Sorted(maps.Keys(r.originals))
}

// MarshalJSON emits the count and categories only
func (r Redactions) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Count      int            `json:"count"`
		Categories map[string]int `json:"categories,omitempty"`
	}{r.count, r.categories})
}

// Plugin redacts PII from the processed request and handles responses
// according to the tenant's response mode
type Plugin struct {
	pipeline.Base
	tenants policy.Resolver
	logger  *zap.Logger
}

// New creates the PII plugin
func New(tenants policy.Resolver, logger *zap.Logger, priority int) *Plugin {
	return &Plugin{
		Base:    pipeline.NewBase(ID, priority, pipeline.HookTransformRequest|pipeline.HookTransformResponse),
		tenants: tenants,
		logger:  logger,
	}
}

// TransformRequest replaces PII in the processed prompt with category tags
func (p *Plugin) TransformRequest(_ context.Context, rc *pipeline.RequestContext) error {
	pol, ok := p.policyFor(rc)
	if !ok {
		return nil
	}

	req := rc.ProcessedRequest()
	red, _ := pipeline.Get(rc.Extensions(), RedactionsKey)
	seen := maps.Clone(red.seen)
	if seen == nil {
		seen = make(map[prompt.PIIType]int)
	}

	out, items := pol.Detector.Redact(req.Prompt, pol.Keyed(), seen)
	if len(items) == 0 {
		return nil
	}

	red = red.add(items)
	red.seen = seen
	pipeline.Set(rc.Extensions(), RedactionsKey, red)
	rc.SetProcessedRequest(req.WithPrompt(out))

	p.logger.Debug("redacted prompt",
		zap.String("request_id", req.ID),
		zap.Int("redactions", len(items)))
	return nil
}

// TransformResponse annotates, restores or rescans the final response
func (p *Plugin) TransformResponse(_ context.Context, rc *pipeline.RequestContext) error {
	pol, ok := p.policyFor(rc)
	if !ok {
		return nil
	}
	resp, ok := rc.FinalResponse()
	if !ok {
		return nil
	}
	red, _ := pipeline.Get(rc.Extensions(), RedactionsKey)

	changed := false
	switch pol.ResponseMode {
	case policy.ResponseModeRestore:
		if out := restore(resp.Content, red); out != resp.Content {
			resp = resp.WithContent(out)
			changed = true
		}
	case policy.ResponseModeRescan:
		seen := maps.Clone(red.seen)
		if seen == nil {
			seen = make(map[prompt.PIIType]int)
		}
		if out, items := pol.Detector.Redact(resp.Content, pol.Keyed(), seen); len(items) > 0 {
			red = red.add(items)
			red.seen = seen
			pipeline.Set(rc.Extensions(), RedactionsKey, red)
			resp = resp.WithContent(out)
			changed = true
		}
	}

	if red.count > 0 {
		resp = resp.WithMetadata(MetadataRedacted, strconv.Itoa(red.count))
		changed = true
	}
	if changed {
		rc.SetFinalResponse(resp)
	}
	return nil
}

func (p *Plugin) policyFor(rc *pipeline.RequestContext) (policy.PIIPolicy, bool) {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	if !ok || !tenant.PII.Enabled || tenant.PII.Detector == nil {
		return policy.PIIPolicy{}, false
	}
	return tenant.PII, true
}

// restore replaces keyed tags in text with their originals. Plain tags are
// ambiguous and stay in place.
func restore(text string, red Redactions) string {
	var pairs []string
	for _, it := range red.originals {
		if it.Keyed() {
			pairs = append(pairs, it.Tag, it.Original)
		}
	}
	if len(pairs) == 0 {
		return text
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
