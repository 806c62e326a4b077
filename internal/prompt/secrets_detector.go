package prompt

import (
	"regexp"
	"sort"
)

// SecretType represents different types of secrets that can be detected
type SecretType string

const (
	SecretTypeAWSKey           SecretType = "aws_key"
	SecretTypeGCPKey           SecretType = "gcp_key"
	SecretTypePassword         SecretType = "password"
	SecretTypeToken            SecretType = "token"
	SecretTypePrivateKey       SecretType = "private_key"
	SecretTypeJWT              SecretType = "jwt"
	SecretTypeSlackToken       SecretType = "slack_token"
	SecretTypeGitHubToken      SecretType = "github_token"
	SecretTypeStripeKey        SecretType = "stripe_key"
	SecretTypeOpenAIKey        SecretType = "openai_key"
	SecretTypeAnthropicKey     SecretType = "anthropic_key"
	SecretTypeDatabaseURL      SecretType = "database_url"
	SecretTypeConnectionString SecretType = "connection_string"
)

// DefaultSecretThreshold skips the loose password and token heuristics
const DefaultSecretThreshold = 0.85

// SecretDetection represents a detected secret instance
type SecretDetection struct {
	Type        SecretType
	StartPos    int
	EndPos      int
	Confidence  float64
	Description string
}

type secretRule struct {
	kind        SecretType
	confidence  float64
	description string
	// capture selects submatch 1 as the secret instead of the whole match
	capture  bool
	patterns []*regexp.Regexp
}

// Specific provider formats come first so generic heuristics never shadow them
var secretRules = []secretRule{
	{kind: SecretTypePrivateKey, confidence: 1.0, description: "Private key header", patterns: compileAll(
		`-----BEGIN\s+(?:RSA\s+|OPENSSH\s+|EC\s+|DSA\s+)?PRIVATE\s+KEY-----`,
	)},
	{kind: SecretTypeAWSKey, confidence: 0.95, description: "AWS access key ID", patterns: compileAll(
		`\bAKIA[0-9A-Z]{16}\b`,
	)},
	{kind: SecretTypeGCPKey, confidence: 0.95, description: "Google Cloud API key", patterns: compileAll(
		`\bAIza[0-9A-Za-z\-_]{35}\b`,
	)},
	{kind: SecretTypeAnthropicKey, confidence: 0.95, description: "Anthropic API key", patterns: compileAll(
		`\bsk-ant-[A-Za-z0-9\-_]{32,}`,
	)},
	{kind: SecretTypeOpenAIKey, confidence: 0.9, description: "OpenAI API key", patterns: compileAll(
		`\bsk-(?:proj-)?[A-Za-z0-9]{48}\b`,
	)},
	{kind: SecretTypeSlackToken, confidence: 0.95, description: "Slack token", patterns: compileAll(
		`\bxox[baprs]-[A-Za-z0-9-]{10,}`,
	)},
	{kind: SecretTypeGitHubToken, confidence: 0.95, description: "GitHub token", patterns: compileAll(
		`\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
	)},
	{kind: SecretTypeStripeKey, confidence: 0.95, description: "Stripe API key", patterns: compileAll(
		`\b[sr]k_(?:live|test)_[0-9a-zA-Z]{24,}\b`,
	)},
	{kind: SecretTypeJWT, confidence: 0.9, description: "JSON Web Token", patterns: compileAll(
		`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`,
	)},
	{kind: SecretTypeDatabaseURL, confidence: 0.9, description: "Database URL with credentials", patterns: compileAll(
		`(?i)\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis)://[^\s'":@]+:[^\s'"@]+@[^\s'"]+`,
	)},
	{kind: SecretTypeConnectionString, confidence: 0.85, description: "Database connection string", patterns: compileAll(
		`(?i)(?:Server|Data\s+Source)=[^;]+;.*Password=[^;]+`,
	)},
	{kind: SecretTypePassword, confidence: 0.7, description: "Password value", capture: true, patterns: compileAll(
		`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})`,
	)},
	{kind: SecretTypeToken, confidence: 0.65, description: "Generic token", capture: true, patterns: compileAll(
		`(?i)\b(?:access[_\-]?token|api[_\-]?key|token)\s*[:=]\s*['"]?([A-Za-z0-9_\-\.]{20,})`,
	)},
}

// DetectSecrets finds credentials in text, ordered by position. Overlapping
// matches keep only the highest-confidence detection.
func DetectSecrets(text string) []SecretDetection {
	var detections []SecretDetection
	for _, rule := range secretRules {
		for _, pattern := range rule.patterns {
			for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
				start, end := m[0], m[1]
				if rule.capture && len(m) >= 4 && m[2] >= 0 {
					start, end = m[2], m[3]
				}
				if covered(detections, start, end) {
					continue
				}
				detections = append(detections, SecretDetection{
					Type:        rule.kind,
					StartPos:    start,
					EndPos:      end,
					Confidence:  rule.confidence,
					Description: rule.description,
				})
			}
		}
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].StartPos < detections[j].StartPos
	})
	return detections
}

// StrongestSecret returns the highest-confidence detection at or above
// threshold
func StrongestSecret(text string, threshold float64) (SecretDetection, bool) {
	var best SecretDetection
	found := false
	for _, d := range DetectSecrets(text) {
		if d.Confidence >= threshold && (!found || d.Confidence > best.Confidence) {
			best = d
			found = true
		}
	}
	return best, found
}

// HasSecrets returns true if any secret at the default threshold is present
func HasSecrets(text string) bool {
	_, found := StrongestSecret(text, DefaultSecretThreshold)
	return found
}

func covered(detections []SecretDetection, start, end int) bool {
	for _, d := range detections {
		if start < d.EndPos && end > d.StartPos {
			return true
		}
	}
	return false
}
