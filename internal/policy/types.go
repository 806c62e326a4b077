package policy

// Quota charging strategies
const (
	StrategyRequest = "request"
	StrategyTokens  = "tokens"
)

// Quota principal scopes
const (
	ScopeTenant  = "tenant"
	ScopeSubject = "subject"
)

// PII response modes
const (
	ResponseModeAnnotate = "annotate"
	ResponseModeRestore  = "restore"
	ResponseModeRescan   = "rescan"
)

// Rule targets
const (
	ApplyRequest  = "request"
	ApplyResponse = "response"
	ApplyBoth     = "both"
)

// File is the root of a tenant policy file
type File struct {
	Tenants []TenantSpec `yaml:"tenants" validate:"required,min=1,dive"`
}

// TenantSpec is the declared policy of one tenant
type TenantSpec struct {
	ID            string            `yaml:"id" validate:"required"`
	Class         string            `yaml:"class" validate:"required,oneof=finance education research enterprise healthcare general"`
	Config        map[string]string `yaml:"config"`
	Auth          AuthSpec          `yaml:"auth"`
	Quota         QuotaSpec         `yaml:"quota"`
	Guardrail     GuardrailSpec     `yaml:"guardrail"`
	ContentFilter ContentFilterSpec `yaml:"content_filter"`
	PII           PIISpec           `yaml:"pii"`
}

// AuthSpec lists accepted credentials. A tenant without credentials cannot
// authenticate.
type AuthSpec struct {
	JWTSecret string       `yaml:"jwt_secret" validate:"omitempty,min=16"`
	JWKSURL   string       `yaml:"jwks_url" validate:"omitempty,url"`
	Issuer    string       `yaml:"issuer"`
	Audience  string       `yaml:"audience"`
	APIKeys   []APIKeySpec `yaml:"api_keys" validate:"dive"`
}

// APIKeySpec is a bcrypt hash of an issued API key
type APIKeySpec struct {
	ID      string   `yaml:"id" validate:"required"`
	Hash    string   `yaml:"hash" validate:"required,startswith=$2"`
	Subject string   `yaml:"subject" validate:"required"`
	Roles   []string `yaml:"roles"`
}

// QuotaSpec sets the allowance of a tenant. A zero total disables quota
// enforcement for the tenant.
type QuotaSpec struct {
	Total            int64  `yaml:"total" validate:"gte=0"`
	Period           string `yaml:"period" validate:"omitempty,oneof=hourly daily monthly none"`
	Strategy         string `yaml:"strategy" validate:"omitempty,oneof=request tokens"`
	UnitsPerRequest  int64  `yaml:"units_per_request" validate:"gte=0"`
	DefaultMaxTokens int64  `yaml:"default_max_tokens" validate:"gte=0"`
	Scope            string `yaml:"scope" validate:"omitempty,oneof=tenant subject"`
}

// PatternSpec is a regular expression tagged with a category
type PatternSpec struct {
	Pattern  string `yaml:"pattern" validate:"required"`
	Category string `yaml:"category" validate:"required"`
}

// GuardrailSpec configures blocking validation
type GuardrailSpec struct {
	Prohibited         []PatternSpec `yaml:"prohibited" validate:"dive"`
	InScope            []string      `yaml:"in_scope"`
	CheckResponse      bool          `yaml:"check_response"`
	DetectInjection    bool          `yaml:"detect_injection"`
	InjectionThreshold float64       `yaml:"injection_threshold" validate:"gte=0,lte=1"`
	BlockSecrets       bool          `yaml:"block_secrets"`
}

// RewriteSpec replaces matches of Pattern with Replacement
type RewriteSpec struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement"`
	Category    string `yaml:"category" validate:"required"`
	ApplyTo     string `yaml:"apply_to" validate:"omitempty,oneof=request response both"`
}

// ContentFilterSpec configures transforming filters
type ContentFilterSpec struct {
	Rules          []RewriteSpec `yaml:"rules" validate:"dive"`
	Disclaimer     string        `yaml:"disclaimer"`
	AlwaysDisclaim bool          `yaml:"always_disclaim"`
}

// PIISpec configures redaction
type PIISpec struct {
	Enabled      bool     `yaml:"enabled"`
	ResponseMode string   `yaml:"response_mode" validate:"omitempty,oneof=annotate restore rescan"`
	NameCues     []string `yaml:"name_cues"`
}
