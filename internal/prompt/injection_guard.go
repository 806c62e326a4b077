package prompt

import (
	"regexp"
	"sort"
)

// InjectionType represents different types of prompt injection attacks
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeRoleManipulation    InjectionType = "role_manipulation"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeDataExfiltration    InjectionType = "data_exfiltration"
	InjectionTypeJailbreak           InjectionType = "jailbreak"
	InjectionTypeDelimiterAttack     InjectionType = "delimiter_attack"
	InjectionTypeEncodingAttack      InjectionType = "encoding_attack"
)

// DefaultInjectionThreshold is the confidence at which a detection blocks
const DefaultInjectionThreshold = 0.8

// InjectionDetection represents a detected injection attempt
type InjectionDetection struct {
	Type        InjectionType
	Pattern     string
	Confidence  float64
	StartPos    int
	EndPos      int
	Description string
}

type injectionRule struct {
	kind        InjectionType
	confidence  float64
	description string
	patterns    []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var injectionRules = []injectionRule{
	{
		kind: InjectionTypeSystemPromptLeak, confidence: 0.9,
		description: "Attempt to reveal system prompt",
		patterns: compileAll(
			`(?i)ignore\s+(?:(?:all|any|the|previous|prior|above|earlier)\s+){1,3}(instructions?|prompts?|commands?|rules)`,
			`(?i)show\s+(me\s+)?(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`,
			`(?i)what\s+(is|are|was|were)\s+(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`,
			`(?i)reveal\s+(your|the)\s+(system|hidden|secret)\s+(prompt|instructions?)`,
			`(?i)(print|repeat)\s+(your|the)\s+(system|original)\s+(prompt|instructions?)`,
		),
	},
	{
		kind: InjectionTypeRoleManipulation, confidence: 0.85,
		description: "Attempt to manipulate AI role or identity",
		patterns: compileAll(
			`(?i)(you|your)\s+(are|role|identity)\s+(now|is|changed)`,
			`(?i)assume\s+(the\s+)?(role|identity)\s+of`,
			`(?i)pretend\s+(to\s+)?be\s+(a|an)`,
			`(?i)act\s+as\s+(if\s+)?(you|you're|you\s+are)`,
			`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`,
		),
	},
	{
		kind: InjectionTypeInstructionOverride, confidence: 0.9,
		description: "Attempt to override system instructions",
		patterns: compileAll(
			`(?i)disregard\s+(?:(?:all|any|the|previous|prior|above|earlier)\s+){1,3}(instructions?|rules|prompts?|commands?)`,
			`(?i)override\s+(?:(?:all|any|the|previous|prior|system)\s+){1,3}(instructions?|rules|settings?)`,
			`(?i)cancel\s+(?:(?:all|any|the|previous|prior)\s+){1,3}(instructions?|commands?)`,
			`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`,
		),
	},
	{
		kind: InjectionTypeDataExfiltration, confidence: 0.95,
		description: "Attempt to execute code or exfiltrate data",
		patterns: compileAll(
			`(?i)(execute|run)\s+(this|the\s+following)\s+(code|script|command)`,
			`(?i)\b(eval|exec|system)\s*\(`,
			`(?i)import\s+(os|sys|subprocess|socket)\b`,
			`(?i)send\s+(data|information|content)\s+to\s+https?://`,
		),
	},
	{
		kind: InjectionTypeJailbreak, confidence: 0.95,
		description: "Known jailbreak pattern detected",
		patterns: compileAll(
			`(?i)\bDAN\s+mode`,
			`(?i)(developer|unrestricted|god)\s+mode`,
			`(?i)jailbreak`,
			`(?i)without\s+(any|ethical|moral)\s+(restrictions?|limitations?|guidelines?)`,
		),
	},
	{
		kind: InjectionTypeDelimiterAttack, confidence: 0.8,
		description: "Attempt to manipulate prompt delimiters",
		patterns: compileAll(
			`\[/?(SYSTEM|USER|ASSISTANT)\]`,
			`<\|(system|user|assistant|end)\|>`,
			`###\s*(SYSTEM|USER|ASSISTANT|INSTRUCTION)`,
		),
	},
	{
		kind: InjectionTypeEncodingAttack, confidence: 0.7,
		description: "Potential encoded payload detected",
		patterns: compileAll(
			`(?i)base64\s*[:\s=]\s*[A-Za-z0-9+/]{20,}={0,2}`,
			`(?i)hex\s*[:\s=]\s*[0-9a-fA-F]{20,}`,
			`(?:\\x[0-9a-fA-F]{2}){10,}`,
		),
	},
}

// DetectInjections detects all potential injection attempts in the prompt,
// ordered by position
func DetectInjections(prompt string) []InjectionDetection {
	var detections []InjectionDetection
	for _, rule := range injectionRules {
		for _, pattern := range rule.patterns {
			for _, match := range pattern.FindAllStringIndex(prompt, -1) {
				detections = append(detections, InjectionDetection{
					Type:        rule.kind,
					Pattern:     pattern.String(),
					Confidence:  rule.confidence,
					StartPos:    match[0],
					EndPos:      match[1],
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

// StrongestInjection returns the highest-confidence detection at or above
// threshold
func StrongestInjection(prompt string, threshold float64) (InjectionDetection, bool) {
	var best InjectionDetection
	found := false
	for _, d := range DetectInjections(prompt) {
		if d.Confidence >= threshold && (!found || d.Confidence > best.Confidence) {
			best = d
			found = true
		}
	}
	return best, found
}
