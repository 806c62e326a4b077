package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PIIType represents different types of PII that can be detected
type PIIType string

const (
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypePhone      PIIType = "phone"
	PIITypeEmail      PIIType = "email"
	PIITypeIPAddress  PIIType = "ip_address"
	PIITypeName       PIIType = "name"
)

// PIIDetection represents a detected PII instance
type PIIDetection struct {
	Type     PIIType
	Value    string
	StartPos int
	EndPos   int
}

// Redaction records one replaced value. Tag is the placeholder written into
// the text; Key identifies the value uniquely within a request even when
// several values share a plain tag.
type Redaction struct {
	Tag      string
	Key      string
	Type     PIIType
	Original string
}

// Keyed reports whether the placeholder in the text is unique
func (r Redaction) Keyed() bool {
	return r.Tag == r.Key
}

var (
	ssnPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
		regexp.MustCompile(`\b[0-9]{9}\b`),
	}

	creditCardPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),     // Visa
		regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),             // MasterCard
		regexp.MustCompile(`\b3[47][0-9]{13}\b`),              // American Express
		regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`), // Discover
		regexp.MustCompile(`\b(?:[0-9]{4}[ -]){3}[0-9]{4}\b`), // grouped 16 digits
	}

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s][0-9]{4}\b`),
		regexp.MustCompile(`\+[0-9]{1,3}[-.\s]?[0-9]{2,4}[-.\s]?[0-9]{3,4}[-.\s]?[0-9]{3,4}\b`),
	}

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	ipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
	}
)

// DefaultNameCues introduce a personal name in free text
var DefaultNameCues = []string{"my name is", "patient", "student", "client"}

type matcher struct {
	kind     PIIType
	patterns []*regexp.Regexp
	group    int
	valid    func(string) bool
}

// PIIDetector finds PII with an ordered list of matchers. When two matches
// overlap the earlier matcher wins.
type PIIDetector struct {
	matchers []matcher
}

// NewPIIDetector creates a detector. cues lists phrases after which one or
// two capitalized words are treated as a name; nil disables name detection.
func NewPIIDetector(cues []string) *PIIDetector {
	matchers := []matcher{
		{kind: PIITypeSSN, patterns: ssnPatterns[:1]},
		{kind: PIITypeSSN, patterns: ssnPatterns[1:], valid: looksLikeSSN},
		{kind: PIITypeCreditCard, patterns: creditCardPatterns, valid: luhnCheck},
		{kind: PIITypePhone, patterns: phonePatterns},
		{kind: PIITypeEmail, patterns: []*regexp.Regexp{emailPattern}},
		{kind: PIITypeIPAddress, patterns: ipPatterns},
	}
	if re := nameCuePattern(cues); re != nil {
		matchers = append(matchers, matcher{kind: PIITypeName, patterns: []*regexp.Regexp{re}, group: 1})
	}
	return &PIIDetector{matchers: matchers}
}

func nameCuePattern(cues []string) *regexp.Regexp {
	var quoted []string
	for _, c := range cues {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(c), " ", `\s+`))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?i:` + strings.Join(quoted, "|") + `)[:,]?\s+([A-Z][a-zA-Z'\-]+(?:\s+[A-Z][a-zA-Z'\-]+)?)`)
}

// Detect returns non-overlapping detections ordered by position
func (d *PIIDetector) Detect(text string) []PIIDetection {
	var detections []PIIDetection
	for _, m := range d.matchers {
		for _, pattern := range m.patterns {
			for _, idx := range pattern.FindAllStringSubmatchIndex(text, -1) {
				start, end := idx[2*m.group], idx[2*m.group+1]
				if start < 0 {
					continue
				}
				value := text[start:end]
				if m.valid != nil && !m.valid(value) {
					continue
				}
				if overlaps(detections, start, end) {
					continue
				}
				detections = append(detections, PIIDetection{
					Type:     m.kind,
					Value:    value,
					StartPos: start,
					EndPos:   end,
				})
			}
		}
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartPos < detections[j].StartPos
	})
	return detections
}

func overlaps(detections []PIIDetection, start, end int) bool {
	for _, d := range detections {
		if start < d.EndPos && d.StartPos < end {
			return true
		}
	}
	return false
}

// Redact replaces every detection with a category tag. Values are numbered
// per category starting after the counts already in seen, which is updated
// when non-nil. In keyed mode the number is part of the tag; otherwise it
// only appears in the redaction Key.
func (d *PIIDetector) Redact(text string, keyed bool, seen map[PIIType]int) (string, []Redaction) {
	detections := d.Detect(text)
	if len(detections) == 0 {
		return text, nil
	}
	if seen == nil {
		seen = make(map[PIIType]int)
	}

	var b strings.Builder
	redactions := make([]Redaction, 0, len(detections))
	last := 0
	for _, det := range detections {
		seen[det.Type]++
		tag := redactionTag(det.Type)
		key := fmt.Sprintf("%s#%d", tag, seen[det.Type])
		if keyed {
			tag = fmt.Sprintf("[%s_REDACTED_%d]", tagName(det.Type), seen[det.Type])
			key = tag
		}
		b.WriteString(text[last:det.StartPos])
		b.WriteString(tag)
		last = det.EndPos
		redactions = append(redactions, Redaction{Tag: tag, Key: key, Type: det.Type, Original: det.Value})
	}
	b.WriteString(text[last:])

	return b.String(), redactions
}

func redactionTag(piiType PIIType) string {
	return "[" + tagName(piiType) + "_REDACTED]"
}

func tagName(piiType PIIType) string {
	switch piiType {
	case PIITypeEmail:
		return "EMAIL"
	case PIITypePhone:
		return "PHONE"
	case PIITypeSSN:
		return "SSN"
	case PIITypeCreditCard:
		return "CC"
	case PIITypeIPAddress:
		return "IP"
	case PIITypeName:
		return "NAME"
	default:
		return "PII"
	}
}

// looksLikeSSN performs basic validation on a 9-digit number to check if it looks like an SSN
func looksLikeSSN(s string) bool {
	if len(s) != 9 {
		return false
	}

	// SSN cannot be all zeros in any group
	if s[:3] == "000" || s[3:5] == "00" || s[5:] == "0000" {
		return false
	}

	if strings.HasPrefix(s, "666") || strings.HasPrefix(s, "9") {
		return false
	}

	return true
}

// luhnCheck validates a credit card number using the Luhn algorithm
func luhnCheck(cardNumber string) bool {
	cardNumber = strings.ReplaceAll(cardNumber, " ", "")
	cardNumber = strings.ReplaceAll(cardNumber, "-", "")

	if len(cardNumber) < 13 || len(cardNumber) > 19 {
		return false
	}

	sum := 0
	isSecond := false

	// Traverse from right to left
	for i := len(cardNumber) - 1; i >= 0; i-- {
		digit := int(cardNumber[i] - '0')

		if isSecond {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		isSecond = !isSecond
	}

	return sum%10 == 0
}
