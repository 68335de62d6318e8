package filter

import (
	"strings"
	"unicode"
)

// KeywordSet is a vocabulary compiled once at startup. Single words are
// matched by token lookup, multi-word phrases by padded substring search,
// both on word boundaries and case-folded.
type KeywordSet struct {
	words   map[string]struct{}
	phrases []string
}

// CompileKeywords normalizes and indexes a keyword list.
func CompileKeywords(keywords []string) *KeywordSet {
	set := &KeywordSet{words: make(map[string]struct{}, len(keywords))}
	for _, kw := range keywords {
		norm := strings.TrimSpace(normalize(kw))
		if norm == "" {
			continue
		}
		if strings.ContainsRune(norm, ' ') {
			set.phrases = append(set.phrases, norm)
		} else {
			set.words[norm] = struct{}{}
		}
	}
	return set
}

// Matches reports whether any keyword occurs in text.
func (k *KeywordSet) Matches(text string) bool {
	return k.Hits(text) > 0
}

// Hits counts how many distinct keywords occur in text.
func (k *KeywordSet) Hits(text string) int {
	norm := normalize(text)
	hits := 0
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(norm) {
		if _, ok := k.words[tok]; !ok {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		hits++
	}
	padded := " " + norm + " "
	for _, phrase := range k.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			hits++
		}
	}
	return hits
}

// normalize lowercases and replaces every non-alphanumeric rune with a
// space so token boundaries survive punctuation.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func capitalRatio(text string) float64 {
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

// splitSentences breaks text on terminal punctuation, dropping empties.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
