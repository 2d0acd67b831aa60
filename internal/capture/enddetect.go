package capture

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTrailingLines is how many of the newest lines the end heuristic reads.
const DefaultTrailingLines = 5

// DefaultEndTokens are words that usually sit at the bottom of a receipt.
func DefaultEndTokens() []string {
	return []string{
		"total",
		"amount due",
		"balance due",
		"change due",
		"thank you",
		"come again",
		"customer copy",
	}
}

// EndDetector guesses whether a capture reached the bottom of the receipt.
// Its answer is advisory and never completes a session by itself.
type EndDetector struct {
	tokens   *regexp.Regexp
	pattern  *regexp.Regexp
	trailing int
}

// NewEndDetector builds a detector from footer tokens, matched as whole
// words without regard to case, and an optional termination pattern.
func NewEndDetector(tokens []string, pattern string, trailing int) (*EndDetector, error) {
	if trailing <= 0 {
		trailing = DefaultTrailingLines
	}
	d := &EndDetector{trailing: trailing}

	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(t)))
		}
	}
	if len(quoted) > 0 {
		d.tokens = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling end pattern: %w", err)
		}
		d.pattern = re
	}
	return d, nil
}

// Detect looks at the trailing lines of a newly appended block.
func (d *EndDetector) Detect(lines []string) bool {
	if len(lines) > d.trailing {
		lines = lines[len(lines)-d.trailing:]
	}
	for _, line := range lines {
		if d.tokens != nil && d.tokens.MatchString(strings.ToLower(line)) {
			return true
		}
		if d.pattern != nil && d.pattern.MatchString(line) {
			return true
		}
	}
	return false
}
