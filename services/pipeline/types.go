package pipeline

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TenantClass represents the vertical a tenant belongs to
type TenantClass string

const (
	TenantClassFinance    TenantClass = "finance"
	TenantClassEducation  TenantClass = "education"
	TenantClassResearch   TenantClass = "research"
	TenantClassEnterprise TenantClass = "enterprise"
	TenantClassHealthcare TenantClass = "healthcare"
	TenantClassGeneral    TenantClass = "general"
)

// ParseTenantClass converts a string into a known TenantClass
func ParseTenantClass(s string) (TenantClass, error) {
	switch c := TenantClass(strings.ToLower(strings.TrimSpace(s))); c {
	case TenantClassFinance, TenantClassEducation, TenantClassResearch,
		TenantClassEnterprise, TenantClassHealthcare, TenantClassGeneral:
		return c, nil
	default:
		return "", fmt.Errorf("unknown tenant class %q", s)
	}
}

// ClientProfile identifies the tenant a request is processed for.
// It is immutable once constructed.
type ClientProfile struct {
	id     string
	class  TenantClass
	config map[string]string
}

// NewClientProfile creates a profile, copying the configuration map
func NewClientProfile(id string, class TenantClass, config map[string]string) ClientProfile {
	return ClientProfile{
		id:     id,
		class:  class,
		config: maps.Clone(config),
	}
}

// ID returns the tenant identifier
func (p ClientProfile) ID() string {
	return p.id
}

// Class returns the tenant class
func (p ClientProfile) Class() TenantClass {
	return p.class
}

// Config returns a single configuration value
func (p ClientProfile) Config(key string) (string, bool) {
	v, ok := p.config[key]
	return v, ok
}

// ConfigMap returns a copy of the tenant configuration
func (p ClientProfile) ConfigMap() map[string]string {
	return maps.Clone(p.config)
}

// RequestEnvelope is an inbound generation request.
// Values are treated as immutable: the With* helpers return modified copies.
type RequestEnvelope struct {
	ID         string
	Prompt     string
	Parameters map[string]any
	Metadata   map[string]string
}

// NewRequestEnvelope creates a request envelope, assigning an ID when empty
func NewRequestEnvelope(id, prompt string, params map[string]any, metadata map[string]string) RequestEnvelope {
	if id == "" {
		id = uuid.NewString()
	}
	return RequestEnvelope{
		ID:         id,
		Prompt:     prompt,
		Parameters: maps.Clone(params),
		Metadata:   maps.Clone(metadata),
	}
}

// WithPrompt returns a copy of the envelope carrying a new prompt
func (r RequestEnvelope) WithPrompt(prompt string) RequestEnvelope {
	c := r.clone()
	c.Prompt = prompt
	return c
}

// WithMetadata returns a copy of the envelope with one metadata entry set
func (r RequestEnvelope) WithMetadata(key, value string) RequestEnvelope {
	c := r.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
	return c
}

// WithoutMetadata returns a copy of the envelope with the given entries removed
func (r RequestEnvelope) WithoutMetadata(keys ...string) RequestEnvelope {
	c := r.clone()
	for _, k := range keys {
		delete(c.Metadata, k)
	}
	return c
}

// MetadataValue returns a metadata entry
func (r RequestEnvelope) MetadataValue(key string) string {
	return r.Metadata[key]
}

func (r RequestEnvelope) clone() RequestEnvelope {
	return RequestEnvelope{
		ID:         r.ID,
		Prompt:     r.Prompt,
		Parameters: maps.Clone(r.Parameters),
		Metadata:   maps.Clone(r.Metadata),
	}
}

// ResponseEnvelope is a generation result
type ResponseEnvelope struct {
	ID       string
	Content  string
	Metadata map[string]string
	Duration time.Duration
}

// WithContent returns a copy of the envelope carrying new content
func (r ResponseEnvelope) WithContent(content string) ResponseEnvelope {
	c := r.clone()
	c.Content = content
	return c
}

// WithMetadata returns a copy of the envelope with one metadata entry set
func (r ResponseEnvelope) WithMetadata(key, value string) ResponseEnvelope {
	c := r.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
	return c
}

func (r ResponseEnvelope) clone() ResponseEnvelope {
	return ResponseEnvelope{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: maps.Clone(r.Metadata),
		Duration: r.Duration,
	}
}
