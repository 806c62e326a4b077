package policy

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/upb/llm-governance-gateway/internal/prompt"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/utils"
	"gopkg.in/yaml.v3"
)

// Pattern is a compiled, case-insensitive PatternSpec
type Pattern struct {
	Category string
	Regexp   *regexp.Regexp
}

// Rewrite is a compiled RewriteSpec
type Rewrite struct {
	Category    string
	Regexp      *regexp.Regexp
	Replacement string
	Request     bool
	Response    bool
}

// QuotaPolicy is the resolved quota configuration of a tenant
type QuotaPolicy struct {
	Total            int64
	Period           models.QuotaPeriod
	Strategy         string
	UnitsPerRequest  int64
	DefaultMaxTokens int64
	Scope            string
}

// Enabled reports whether requests are charged against a quota
func (q QuotaPolicy) Enabled() bool {
	return q.Total > 0
}

// GuardrailPolicy is the resolved guardrail configuration of a tenant
type GuardrailPolicy struct {
	Prohibited         []Pattern
	InScope            []*regexp.Regexp
	CheckResponse      bool
	DetectInjection    bool
	InjectionThreshold float64
	BlockSecrets       bool
}

// FilterPolicy is the resolved content filter configuration of a tenant
type FilterPolicy struct {
	Rules          []Rewrite
	Disclaimer     string
	AlwaysDisclaim bool
}

// PIIPolicy is the resolved redaction configuration of a tenant
type PIIPolicy struct {
	Enabled      bool
	ResponseMode string
	Detector     *prompt.PIIDetector
}

// Keyed reports whether redaction tags must be numbered so they can be
// mapped back to originals
func (p PIIPolicy) Keyed() bool {
	return p.ResponseMode == ResponseModeRestore
}

// Tenant is the compiled policy of one tenant
type Tenant struct {
	Profile       pipeline.ClientProfile
	Auth          AuthSpec
	Quota         QuotaPolicy
	Guardrail     GuardrailPolicy
	ContentFilter FilterPolicy
	PII           PIIPolicy
}

// Resolver looks up the compiled policy of a tenant
type Resolver interface {
	Tenant(id string) (*Tenant, bool)
}

// Catalog holds the compiled policy of every tenant
type Catalog struct {
	tenants map[string]*Tenant
	ids     []string
}

// Load reads and compiles a tenant policy file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, validates and compiles a tenant policy document
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenant file: %w", err)
	}
	return NewCatalog(f)
}

// NewCatalog validates and compiles tenant declarations
func NewCatalog(f File) (*Catalog, error) {
	if err := utils.ValidateStruct(f); err != nil {
		if fields := utils.GetValidationFields(err); fields != nil {
			return nil, fmt.Errorf("invalid tenant file: %v", fields)
		}
		return nil, fmt.Errorf("invalid tenant file: %w", err)
	}

	c := &Catalog{tenants: make(map[string]*Tenant, len(f.Tenants))}
	for _, spec := range f.Tenants {
		if _, dup := c.tenants[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", spec.ID)
		}
		t, err := compileTenant(spec)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: %w", spec.ID, err)
		}
		c.tenants[spec.ID] = t
		c.ids = append(c.ids, spec.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Tenant returns the compiled policy of a tenant
func (c *Catalog) Tenant(id string) (*Tenant, bool) {
	t, ok := c.tenants[id]
	return t, ok
}

// Profile returns the client profile of a tenant
func (c *Catalog) Profile(id string) (pipeline.ClientProfile, bool) {
	t, ok := c.tenants[id]
	if !ok {
		return pipeline.ClientProfile{}, false
	}
	return t.Profile, true
}

// IDs returns all tenant ids in sorted order
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// Len returns the number of tenants
func (c *Catalog) Len() int {
	return len(c.ids)
}

func compileTenant(spec TenantSpec) (*Tenant, error) {
	class, err := pipeline.ParseTenantClass(spec.Class)
	if err != nil {
		return nil, err
	}
	period, err := models.ParseQuotaPeriod(spec.Quota.Period)
	if err != nil {
		return nil, err
	}

	t := &Tenant{
		Profile: pipeline.NewClientProfile(spec.ID, class, spec.Config),
		Auth:    spec.Auth,
		Quota: QuotaPolicy{
			Total:            spec.Quota.Total,
			Period:           period,
			Strategy:         orDefault(spec.Quota.Strategy, StrategyRequest),
			UnitsPerRequest:  spec.Quota.UnitsPerRequest,
			DefaultMaxTokens: spec.Quota.DefaultMaxTokens,
			Scope:            orDefault(spec.Quota.Scope, ScopeTenant),
		},
		Guardrail: GuardrailPolicy{
			CheckResponse:      spec.Guardrail.CheckResponse,
			DetectInjection:    spec.Guardrail.DetectInjection,
			InjectionThreshold: spec.Guardrail.InjectionThreshold,
			BlockSecrets:       spec.Guardrail.BlockSecrets,
		},
		ContentFilter: FilterPolicy{
			Disclaimer:     spec.ContentFilter.Disclaimer,
			AlwaysDisclaim: spec.ContentFilter.AlwaysDisclaim,
		},
		PII: PIIPolicy{
			Enabled:      spec.PII.Enabled,
			ResponseMode: orDefault(spec.PII.ResponseMode, ResponseModeAnnotate),
		},
	}
	if t.Quota.UnitsPerRequest == 0 {
		t.Quota.UnitsPerRequest = 1
	}
	if t.Guardrail.InjectionThreshold == 0 {
		t.Guardrail.InjectionThreshold = prompt.DefaultInjectionThreshold
	}

	for _, p := range spec.Guardrail.Prohibited {
		re, err := compile(p.Pattern)
		if err != nil {
			return nil, err
		}
		t.Guardrail.Prohibited = append(t.Guardrail.Prohibited, Pattern{Category: p.Category, Regexp: re})
	}
	for _, p := range spec.Guardrail.InScope {
		re, err := compile(p)
		if err != nil {
			return nil, err
		}
		t.Guardrail.InScope = append(t.Guardrail.InScope, re)
	}
	for _, r := range spec.ContentFilter.Rules {
		re, err := compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		target := orDefault(r.ApplyTo, ApplyBoth)
		t.ContentFilter.Rules = append(t.ContentFilter.Rules, Rewrite{
			Category:    r.Category,
			Regexp:      re,
			Replacement: r.Replacement,
			Request:     target != ApplyResponse,
			Response:    target != ApplyRequest,
		})
	}

	if t.PII.Enabled {
		cues := spec.PII.NameCues
		if cues == nil {
			cues = prompt.DefaultNameCues
		}
		t.PII.Detector = prompt.NewPIIDetector(cues)
	}

	return t, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
