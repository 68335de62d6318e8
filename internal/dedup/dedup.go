package dedup

import (
	"sort"
	"strings"
	"unicode"

	"truckpress/internal/config"
	"truckpress/internal/domain"
)

// Detector removes candidates that duplicate each other or previously
// accepted articles, first by canonical URL, then by weighted textual
// similarity. All tie-breaks are deterministic: higher engagement wins,
// equal engagement breaks toward the more recent item.
type Detector struct {
	threshold   float64
	titleWeight float64
	bodyWeight  float64
	urlWeight   float64
}

// New builds a detector from similarity configuration.
func New(cfg config.SimilarityConfig) *Detector {
	return &Detector{
		threshold:   cfg.Threshold,
		titleWeight: cfg.TitleWeight,
		bodyWeight:  cfg.BodyWeight,
		urlWeight:   cfg.URLWeight,
	}
}

// Dedupe runs the pairwise two-phase algorithm: exact canonical-URL
// elimination followed by similarity elimination against surviving
// candidates and the recent window. Survivors keep their input identity;
// dropped candidates are returned with IsDuplicate set.
func (d *Detector) Dedupe(candidates, recent []domain.Article) (kept, dropped []domain.Article) {
	ordered := orderCandidates(candidates)
	recentURLs := canonicalSet(recent)

	var survivors []domain.Article
	seen := make(map[string]struct{})

	for _, cand := range ordered {
		canon := CanonicalURL(cand.URL)
		if _, dup := seen[canon]; dup {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}
		if _, dup := recentURLs[canon]; dup {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}

		if d.similarToAny(cand, survivors) || d.similarToAny(cand, recent) {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}

		seen[canon] = struct{}{}
		survivors = append(survivors, cand)
	}

	return survivors, dropped
}

// DedupeGroups is the stronger mode used before the queue insert: after the
// exact phase and recent-window suppression, remaining candidates are
// partitioned into similarity-connected groups (single link) and only the
// highest-engagement member of each group survives.
func (d *Detector) DedupeGroups(candidates, recent []domain.Article) (kept, dropped []domain.Article) {
	ordered := orderCandidates(candidates)
	recentURLs := canonicalSet(recent)

	var pool []domain.Article
	seen := make(map[string]struct{})

	for _, cand := range ordered {
		canon := CanonicalURL(cand.URL)
		if _, dup := seen[canon]; dup {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}
		if _, dup := recentURLs[canon]; dup {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}
		if d.similarToAny(cand, recent) {
			dropped = append(dropped, markDuplicate(cand))
			continue
		}
		seen[canon] = struct{}{}
		pool = append(pool, cand)
	}

	// Single-link grouping via union-find over the surviving pool.
	parent := make([]int, len(pool))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if d.Similarity(pool[i], pool[j]) >= d.threshold {
				union(i, j)
			}
		}
	}

	// Pool order is the tie-break order, so the first member of each group
	// is the winner.
	winners := make(map[int]int)
	for i := range pool {
		root := find(i)
		if _, ok := winners[root]; !ok {
			winners[root] = i
			kept = append(kept, pool[i])
		} else {
			dropped = append(dropped, markDuplicate(pool[i]))
		}
	}

	return kept, dropped
}

// Similarity is the weighted combination of title, body, and URL similarity.
func (d *Detector) Similarity(a, b domain.Article) float64 {
	titleSim := jaccard(wordSet(a.Title), wordSet(b.Title))
	bodySim := jaccard(wordSet(a.Body), wordSet(b.Body))
	urlSim := urlSimilarity(CanonicalURL(a.URL), CanonicalURL(b.URL))
	return d.titleWeight*titleSim + d.bodyWeight*bodySim + d.urlWeight*urlSim
}

func (d *Detector) similarToAny(cand domain.Article, against []domain.Article) bool {
	for _, other := range against {
		if d.Similarity(cand, other) >= d.threshold {
			return true
		}
	}
	return false
}

// orderCandidates sorts by descending engagement, then recency, then URL so
// the result never depends on input iteration order beyond documented
// tie-breaks.
func orderCandidates(candidates []domain.Article) []domain.Article {
	ordered := make([]domain.Article, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EngagementScore != ordered[j].EngagementScore {
			return ordered[i].EngagementScore > ordered[j].EngagementScore
		}
		if !ordered[i].PublishedAt.Equal(ordered[j].PublishedAt) {
			return ordered[i].PublishedAt.After(ordered[j].PublishedAt)
		}
		return ordered[i].URL < ordered[j].URL
	})
	return ordered
}

func canonicalSet(articles []domain.Article) map[string]struct{} {
	set := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		set[CanonicalURL(a.URL)] = struct{}{}
	}
	return set
}

func markDuplicate(a domain.Article) domain.Article {
	a.IsDuplicate = true
	return a
}

// wordSet tokenizes text into the set of case-folded words longer than
// three characters, punctuation stripped.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(tok)) > 3 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
