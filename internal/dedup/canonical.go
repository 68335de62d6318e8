package dedup

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization.
var trackingParams = map[string]struct{}{
	"fbclid":   {},
	"gclid":    {},
	"igshid":   {},
	"mc_cid":   {},
	"mc_eid":   {},
	"ref":      {},
	"referrer": {},
	"source":   {},
}

// CanonicalURL normalizes a URL for exact-match de-duplication: tracking
// parameters, fragment, and trailing slash are stripped and the result is
// lowercased. Unparseable input falls back to a trimmed lowercase string.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(strings.ToLower(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}

	u.Fragment = ""
	u.Host = strings.TrimPrefix(u.Host, "www.")
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for key := range q {
		if _, tracked := trackingParams[key]; tracked || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	// Re-encode with sorted keys so parameter order never splits a match.
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// urlSimilarity compares two canonical URLs: identical is 1.0, substring
// containment is 0.8, otherwise half the Jaccard similarity of path tokens.
func urlSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.8
	}
	ta, tb := pathTokens(a), pathTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return 0.5 * jaccard(ta, tb)
}

func pathTokens(canonical string) map[string]struct{} {
	u, err := url.Parse(canonical)
	if err != nil {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, part := range strings.FieldsFunc(u.Path, func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.'
	}) {
		if part != "" {
			tokens[part] = struct{}{}
		}
	}
	return tokens
}
