// Package contentfilter rewrites request and response text with per-tenant
// replacement rules and appends advisory disclaimers.
package contentfilter

import (
	"context"
	"maps"
	"strings"

	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"go.uber.org/zap"
)

// ID is the plugin identifier
const ID = "contentfilter"

// Response metadata keys
const (
	MetadataFiltered         = "content_filtered"
	MetadataComplianceNotice = "compliance_notice"
)

// ReplacementsKey counts rewrites per rule category
var ReplacementsKey = pipeline.NewKey[map[string]int](ID, "replacements")

// Plugin applies rewrite rules
type Plugin struct {
	pipeline.Base
	tenants policy.Resolver
	logger  *zap.Logger
}

// New creates the content filter plugin
func New(tenants policy.Resolver, logger *zap.Logger, priority int) *Plugin {
	return &Plugin{
		Base:    pipeline.NewBase(ID, priority, pipeline.HookTransformRequest|pipeline.HookTransformResponse),
		tenants: tenants,
		logger:  logger,
	}
}

// TransformRequest rewrites the processed prompt
func (p *Plugin) TransformRequest(_ context.Context, rc *pipeline.RequestContext) error {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	if !ok || len(tenant.ContentFilter.Rules) == 0 {
		return nil
	}

	req := rc.ProcessedRequest()
	out, counts := apply(tenant.ContentFilter.Rules, req.Prompt, func(r policy.Rewrite) bool { return r.Request })
	if len(counts) == 0 {
		return nil
	}

	rc.SetProcessedRequest(req.WithPrompt(out))
	record(rc, counts)
	return nil
}

// TransformResponse rewrites the final response and appends the disclaimer
func (p *Plugin) TransformResponse(_ context.Context, rc *pipeline.RequestContext) error {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	if !ok {
		return nil
	}
	resp, ok := rc.FinalResponse()
	if !ok {
		return nil
	}
	f := tenant.ContentFilter

	content, counts := apply(f.Rules, resp.Content, func(r policy.Rewrite) bool { return r.Response })
	record(rc, counts)

	fired := pipeline.Has(rc.Extensions(), ReplacementsKey)
	disclaim := f.Disclaimer != "" && (fired || f.AlwaysDisclaim) && !strings.Contains(content, f.Disclaimer)
	if !fired && !disclaim {
		return nil
	}

	if disclaim {
		content = strings.TrimRight(content, "\n") + "\n\n" + f.Disclaimer
	}
	resp = resp.WithContent(content)
	if fired {
		resp = resp.WithMetadata(MetadataFiltered, "true")
	}
	if disclaim {
		resp = resp.WithMetadata(MetadataComplianceNotice, "disclaimer_appended")
	}
	rc.SetFinalResponse(resp)
	return nil
}

func apply(rules []policy.Rewrite, text string, include func(policy.Rewrite) bool) (string, map[string]int) {
	var counts map[string]int
	for _, r := range rules {
		if !include(r) {
			continue
		}
		n := len(r.Regexp.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		text = r.Regexp.ReplaceAllString(text, r.Replacement)
		if counts == nil {
			counts = make(map[string]int)
		}
		counts[r.Category] += n
	}
	return text, counts
}

func record(rc *pipeline.RequestContext, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	total, _ := pipeline.Get(rc.Extensions(), ReplacementsKey)
	total = maps.Clone(total)
	if total == nil {
		total = make(map[string]int, len(counts))
	}
	for k, v := range counts {
		total[k] += v
	}
	pipeline.Set(rc.Extensions(), ReplacementsKey, total)
}
