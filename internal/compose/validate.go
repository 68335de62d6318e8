package compose

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	minPostLength = 50
	maxCapRatio   = 0.3
)

var (
	repeatedPunct = regexp.MustCompile(`[!?]{3,}`)
	spamPhrases   = []string{"click here", "buy now", "limited time", "act fast"}
)

// ValidationResult reports whether a composed post may be queued.
type ValidationResult struct {
	IsValid bool
	Issues  []string
}

// Validate checks a composed post against the publishing rules. A failing
// post is discarded, never retried; the article still counts as processed.
func (c *Composer) Validate(text string) ValidationResult {
	var issues []string

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ValidationResult{Issues: []string{"post text is empty"}}
	}

	length := len([]rune(trimmed))
	if length > c.maxLength {
		issues = append(issues, "post exceeds length budget")
	}
	if length < minPostLength {
		issues = append(issues, "post is too short")
	}
	if capRatio(trimmed) > maxCapRatio {
		issues = append(issues, "too many capital letters")
	}
	if repeatedPunct.MatchString(trimmed) {
		issues = append(issues, "repeated punctuation")
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range spamPhrases {
		if strings.Contains(lower, phrase) {
			issues = append(issues, "spam phrase: "+phrase)
		}
	}

	return ValidationResult{IsValid: len(issues) == 0, Issues: issues}
}

func capRatio(text string) float64 {
	var upper, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
