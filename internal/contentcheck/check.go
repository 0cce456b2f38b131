// Package contentcheck evaluates compliance rules against step output text.
// Checks run after an executor produces content and before review routing:
// any violation forces the attempt into human review, overriding
// auto_approve on the step.
//
// Supported check kinds:
//   - banned_phrases: phrase blocklist
//   - required_phrases: every listed phrase must appear
//   - max_length: character/word limits
//   - pattern: custom regex, violation when matched
//   - pii: regex-based PII detection (emails, phone numbers, SSN, cards)
package contentcheck

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/contentmill/contentmill/pkg/models"
)

// Violation reports one failed check with a human-readable message that
// reviewers see alongside the held content.
type Violation struct {
	Kind    models.CheckKind `json:"kind"`
	Message string           `json:"message"`
}

func (v Violation) String() string {
	return string(v.Kind) + ": " + v.Message
}

// Evaluate runs every check against the text and returns all violations.
// An empty result means the content is compliant.
func Evaluate(checks []models.ContentCheck, text string) []Violation {
	var violations []Violation
	for i := range checks {
		violations = append(violations, evaluateOne(&checks[i], text)...)
	}
	return violations
}

// Messages flattens violations into strings for persisting on the step
// execution record.
func Messages(violations []Violation) []string {
	if len(violations) == 0 {
		return nil
	}
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.String()
	}
	return out
}

func evaluateOne(c *models.ContentCheck, text string) []Violation {
	switch c.Kind {
	case models.CheckBannedPhrases:
		return evalBannedPhrases(c, text)
	case models.CheckRequiredPhrases:
		return evalRequiredPhrases(c, text)
	case models.CheckMaxLength:
		return evalMaxLength(c, text)
	case models.CheckPattern:
		return evalPattern(c, text)
	case models.CheckPII:
		return evalPII(c, text)
	default:
		// Unknown kinds are rejected at recipe validation. Anything that
		// slips through is treated as compliant rather than blocking runs.
		return nil
	}
}

// ── Banned / Required Phrases ───────────────────────────────

func evalBannedPhrases(c *models.ContentCheck, text string) []Violation {
	haystack := text
	if !c.CaseSensitive {
		haystack = strings.ToLower(text)
	}
	var out []Violation
	for _, phrase := range c.Phrases {
		needle := phrase
		if !c.CaseSensitive {
			needle = strings.ToLower(phrase)
		}
		if needle != "" && strings.Contains(haystack, needle) {
			out = append(out, Violation{
				Kind:    c.Kind,
				Message: fmt.Sprintf("contains banned phrase %q", phrase),
			})
		}
	}
	return out
}

func evalRequiredPhrases(c *models.ContentCheck, text string) []Violation {
	haystack := text
	if !c.CaseSensitive {
		haystack = strings.ToLower(text)
	}
	var out []Violation
	for _, phrase := range c.Phrases {
		needle := phrase
		if !c.CaseSensitive {
			needle = strings.ToLower(phrase)
		}
		if needle != "" && !strings.Contains(haystack, needle) {
			out = append(out, Violation{
				Kind:    c.Kind,
				Message: fmt.Sprintf("missing required phrase %q", phrase),
			})
		}
	}
	return out
}

// ── Max Length ───────────────────────────────────────────────

func evalMaxLength(c *models.ContentCheck, text string) []Violation {
	var out []Violation
	if c.MaxCharacters > 0 {
		if n := utf8.RuneCountInString(text); n > c.MaxCharacters {
			out = append(out, Violation{
				Kind:    c.Kind,
				Message: fmt.Sprintf("%d characters exceeds limit of %d", n, c.MaxCharacters),
			})
		}
	}
	if c.MaxWords > 0 {
		if n := len(strings.Fields(text)); n > c.MaxWords {
			out = append(out, Violation{
				Kind:    c.Kind,
				Message: fmt.Sprintf("%d words exceeds limit of %d", n, c.MaxWords),
			})
		}
	}
	return out
}

// ── Pattern ──────────────────────────────────────────────────

func evalPattern(c *models.ContentCheck, text string) []Violation {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		// Patterns are validated at recipe save; a stale invalid pattern
		// must not silently pass content through.
		return []Violation{{Kind: c.Kind, Message: "invalid pattern: " + err.Error()}}
	}
	if re.MatchString(text) {
		return []Violation{{
			Kind:    c.Kind,
			Message: fmt.Sprintf("content matches blocked pattern %q", c.Pattern),
		}}
	}
	return nil
}

// ── PII Detection ────────────────────────────────────────────

var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
}

func evalPII(c *models.ContentCheck, text string) []Violation {
	names := c.PIIPatterns
	if len(names) == 0 {
		names = make([]string, 0, len(piiPatterns))
		for name := range piiPatterns {
			names = append(names, name)
		}
	}
	var out []Violation
	for _, name := range names {
		re, ok := piiPatterns[name]
		if !ok {
			continue
		}
		if re.MatchString(text) {
			out = append(out, Violation{
				Kind:    c.Kind,
				Message: name + " detected in content",
			})
		}
	}
	return out
}
