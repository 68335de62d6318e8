package filter

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"truckpress/internal/config"
	"truckpress/internal/domain"
)

const (
	titleMinLen      = 10
	titleMaxLen      = 200
	titleMaxCapRatio = 0.5
	minSentences     = 3
	minAvgSentence   = 5.0
	maxAvgSentence   = 50.0
	baseScore        = 0.5
)

var doubledPunct = regexp.MustCompile(`[!?]{2,}`)

// Filter decides whether raw items are admissible and ranks admissible
// items by estimated engagement. A malformed item is excluded and logged,
// never surfaced as an error.
type Filter struct {
	minWords int
	blocked  map[string]struct{}

	required  *KeywordSet
	spam      *KeywordSet
	highValue *KeywordSet
	industry  *KeywordSet
	breaking  *KeywordSet

	log zerolog.Logger
	now func() time.Time
}

// New compiles the configured vocabularies into lookup structures.
func New(cfg config.FilterConfig, log zerolog.Logger) *Filter {
	blocked := make(map[string]struct{}, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		blocked[strings.ToLower(strings.TrimPrefix(d, "www."))] = struct{}{}
	}

	return &Filter{
		minWords:  cfg.MinWordCount,
		blocked:   blocked,
		required:  CompileKeywords(cfg.RequiredKeywords),
		spam:      CompileKeywords(cfg.SpamKeywords),
		highValue: CompileKeywords(cfg.HighValueKeywords),
		industry:  CompileKeywords(cfg.IndustryTerms),
		breaking:  CompileKeywords(cfg.BreakingIndicators),
		log:       log,
		now:       time.Now,
	}
}

// Filter returns the admissible subset ordered by descending score, ties
// broken by descending engagement prior, then by descending publish time.
func (f *Filter) Filter(items []domain.RawItem) []domain.RawItem {
	type scored struct {
		item  domain.RawItem
		score float64
	}

	admitted := make([]scored, 0, len(items))
	for _, item := range items {
		if reason := f.admit(item); reason != "" {
			f.log.Debug().Str("url", item.URL).Str("reason", reason).Msg("item rejected")
			continue
		}
		admitted = append(admitted, scored{item: item, score: f.Score(item)})
	}

	sort.SliceStable(admitted, func(i, j int) bool {
		if admitted[i].score != admitted[j].score {
			return admitted[i].score > admitted[j].score
		}
		if admitted[i].item.EngagementPrior != admitted[j].item.EngagementPrior {
			return admitted[i].item.EngagementPrior > admitted[j].item.EngagementPrior
		}
		return admitted[i].item.PublishedAt.After(admitted[j].item.PublishedAt)
	})

	result := make([]domain.RawItem, 0, len(admitted))
	for _, s := range admitted {
		result = append(result, s.item)
	}
	return result
}

// admit returns an empty string for admissible items, otherwise the name of
// the first failed rule.
func (f *Filter) admit(item domain.RawItem) string {
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.URL) == "" || strings.TrimSpace(item.Body) == "" {
		return "missing required field"
	}
	if wordCount(item.Body) < f.minWords {
		return "body too short"
	}

	combined := item.Title + " " + item.Summary + " " + item.Body
	if f.spam.Matches(combined) {
		return "spam keyword"
	}
	if !f.required.Matches(combined) {
		return "no required keyword"
	}
	if f.hostBlocked(item.URL) {
		return "blocked domain"
	}
	return f.qualityGate(item)
}

func (f *Filter) hostBlocked(raw string) bool {
	if len(f.blocked) == 0 {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	_, blocked := f.blocked[host]
	return blocked
}

func (f *Filter) qualityGate(item domain.RawItem) string {
	titleLen := len([]rune(item.Title))
	if titleLen < titleMinLen || titleLen > titleMaxLen {
		return "title length"
	}
	if capitalRatio(item.Title) > titleMaxCapRatio {
		return "title all caps"
	}
	if doubledPunct.MatchString(item.Title) {
		return "title punctuation"
	}

	sentences := splitSentences(item.Body)
	if len(sentences) < minSentences {
		return "too few sentences"
	}
	total := 0
	for _, s := range sentences {
		total += wordCount(s)
	}
	avg := float64(total) / float64(len(sentences))
	if avg < minAvgSentence || avg > maxAvgSentence {
		return "sentence length"
	}
	return ""
}

// Score estimates engagement in [0,1] for an admissible item.
func (f *Filter) Score(item domain.RawItem) float64 {
	score := baseScore

	score += 0.10 * float64(f.highValue.Hits(item.Title))
	score += 0.05 * float64(f.highValue.Hits(item.Body))
	score += 0.05 * float64(f.industry.Hits(item.Title))
	score += 0.02 * float64(f.industry.Hits(item.Body))
	score += 0.15 * float64(f.breaking.Hits(item.Title))

	age := f.now().Sub(item.PublishedAt)
	switch {
	case age < time.Hour:
		score += 0.2
	case age < 6*time.Hour:
		score += 0.1
	case age < 12*time.Hour:
		score += 0.05
	}

	if item.ImageURL != "" {
		score += 0.1
	}
	score += 0.2 * item.EngagementPrior

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
