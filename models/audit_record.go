package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is the tamper-evident trace of one processed request.
// Content fields hold sha256 digests, never the text itself.
type AuditRecord struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	RequestID           string         `json:"request_id" db:"request_id"`
	PrincipalID         string         `json:"principal_id" db:"principal_id"`
	TenantClass         string         `json:"tenant_class" db:"tenant_class"`
	OriginalPromptHash  string         `json:"original_prompt_hash" db:"original_prompt_hash"`
	ProcessedPromptHash string         `json:"processed_prompt_hash" db:"processed_prompt_hash"`
	ResponseHash        string         `json:"response_hash,omitempty" db:"response_hash"`
	StartedAt           time.Time      `json:"started_at" db:"started_at"`
	CompletedAt         time.Time      `json:"completed_at" db:"completed_at"`
	DurationMs          int64          `json:"duration_ms" db:"duration_ms"`
	Success             bool           `json:"success" db:"success"`
	ErrorMessage        string         `json:"error_message,omitempty" db:"error_message"`
	ErrorType           string         `json:"error_type,omitempty" db:"error_type"`
	FailingPlugin       string         `json:"failing_plugin,omitempty" db:"failing_plugin"`
	Extensions          map[string]any `json:"extensions,omitempty" db:"extensions"` // JSONB
	PreviousHash        string         `json:"previous_hash,omitempty" db:"previous_hash"`
	RecordHash          string         `json:"record_hash,omitempty" db:"record_hash"`
}

// TableName returns the table name for the AuditRecord model
func (AuditRecord) TableName() string {
	return "audit_records"
}

// NewAuditRecord creates a new AuditRecord instance
func NewAuditRecord(requestID, principalID, tenantClass string) *AuditRecord {
	return &AuditRecord{
		ID:          uuid.New(),
		RequestID:   requestID,
		PrincipalID: principalID,
		TenantClass: tenantClass,
	}
}

// WithPrompts records digests of the original and processed prompts
func (a *AuditRecord) WithPrompts(original, processed string) *AuditRecord {
	a.OriginalPromptHash = HashContent(original)
	a.ProcessedPromptHash = HashContent(processed)
	return a
}

// WithResponse records the digest of the final response
func (a *AuditRecord) WithResponse(content string) *AuditRecord {
	a.ResponseHash = HashContent(content)
	return a
}

// WithTiming sets timestamps at microsecond precision so records survive a
// database round trip unchanged
func (a *AuditRecord) WithTiming(started, completed time.Time) *AuditRecord {
	a.StartedAt = started.UTC().Truncate(time.Microsecond)
	a.CompletedAt = completed.UTC().Truncate(time.Microsecond)
	a.DurationMs = completed.Sub(started).Milliseconds()
	return a
}

// WithOutcome sets the success flag and error information
func (a *AuditRecord) WithOutcome(err error, errorType, failingPlugin string) *AuditRecord {
	a.Success = err == nil
	if err != nil {
		a.ErrorMessage = err.Error()
		a.ErrorType = errorType
		a.FailingPlugin = failingPlugin
	}
	return a
}

// WithExtensions sets the extension snapshot in its JSON form, so the record
// holds the same values it will read back from storage. Values that cannot be
// encoded are kept as given and surface as an error from ComputeHash.
func (a *AuditRecord) WithExtensions(ext map[string]any) *AuditRecord {
	if canonical, err := canonicalExtensions(ext); err == nil {
		ext = canonical
	}
	a.Extensions = ext
	return a
}

// ComputeHash returns sha256(previous hash || canonical JSON of the record
// without its own hash). Extensions are hashed in their decoded JSON form so
// a typed value and its stored JSONB copy produce the same digest.
func (a *AuditRecord) ComputeHash() (string, error) {
	c := *a
	c.RecordHash = ""
	ext, err := canonicalExtensions(a.Extensions)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit extensions: %w", err)
	}
	c.Extensions = ext
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit record: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(a.PreviousHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalExtensions round-trips ext through JSON. Numbers decode as
// json.Number so integers keep their exact text.
func canonicalExtensions(ext map[string]any) (map[string]any, error) {
	if len(ext) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(ext)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// HashContent returns the hex sha256 digest of s
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
