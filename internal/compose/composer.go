package compose

import (
	"math/rand"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"truckpress/internal/config"
	"truckpress/internal/domain"
)

const (
	headlineLimit   = 100
	summaryLimit    = 150
	urgencyMark     = "\U0001F6A8" // 🚨
	excitementMark  = "⚡"
	fallbackSummary = "Read the full story for details on this developing industry update."
)

var boilerplatePrefixes = []string{
	"breaking:", "update:", "news:", "alert:", "just in:", "exclusive:", "report:",
}

var urgencyVocab = []string{
	"shortage", "accident", "crash", "regulation", "shutdown", "increase",
	"decrease", "recall", "strike", "ban",
}

var innovationVocab = []string{
	"technology", "electric", "autonomous", "breakthrough", "innovation", "ai",
}

// hashtagRules map keywords to topic hashtags; a fixed slice keeps the scan
// order (and therefore the output) deterministic.
var hashtagRules = []struct {
	keyword string
	tag     string
}{
	{"regulation", "#TruckingRegulations"},
	{"driver", "#TruckDrivers"},
	{"freight", "#FreightNews"},
	{"electric", "#ElectricTrucks"},
	{"autonomous", "#AutonomousTrucks"},
	{"safety", "#RoadSafety"},
	{"fuel", "#FuelPrices"},
	{"diesel", "#DieselPrices"},
	{"shortage", "#DriverShortage"},
	{"economy", "#FreightMarket"},
}

var ctaSets = []struct {
	keywords []string
	options  []string
}{
	{
		keywords: []string{"regulation", "rule", "mandate", "law"},
		options: []string{
			"How will these rules affect your operation?",
			"Drivers, what do you think about this change?",
		},
	},
	{
		keywords: []string{"technology", "electric", "autonomous", "ai"},
		options: []string{
			"Would you trust this tech on the road?",
			"Is this the future of trucking?",
		},
	},
	{
		keywords: []string{"shortage", "hiring", "wages", "pay"},
		options: []string{
			"Are you seeing this in your market?",
			"What would keep more drivers in the seat?",
		},
	},
	{
		keywords: []string{"safety", "accident", "crash"},
		options: []string{
			"Stay safe out there.",
			"What could have prevented this?",
		},
	},
	{
		keywords: []string{"fuel", "diesel", "cost", "price"},
		options: []string{
			"How are you managing fuel costs?",
			"Where are prices headed next?",
		},
	},
}

var genericCTAs = []string{
	"Share your take in the comments.",
	"Tag a driver who needs to see this.",
	"Follow for daily trucking news.",
	"What's your view from the cab?",
}

// Composer turns accepted articles into publishable post content within a
// length budget.
type Composer struct {
	maxLength   int
	maxHashtags int
	baseline    []string
	pick        func(n int) int
}

// New builds a composer; pick defaults to math/rand.
func New(cfg config.ComposeConfig) *Composer {
	return &Composer{
		maxLength:   cfg.MaxLength,
		maxHashtags: cfg.MaxHashtags,
		baseline:    cfg.BaselineHashtags,
		pick:        rand.Intn,
	}
}

// Compose produces a ready-to-publish post for an article. It never fails;
// invalid output is caught by Validate before queueing.
func (c *Composer) Compose(article domain.Article) domain.ComposedPost {
	title := stripHTML(article.Title)
	summary := stripHTML(article.Summary)
	body := stripHTML(article.Body)

	headline := c.headline(title)
	summaryLine := c.summary(summary, body)
	hashtags := c.hashtags(title, summary, body, article.Source)
	cta := c.callToAction(title, summary)

	text := assemble(headline, summaryLine, cta, hashtags, c.maxLength)

	return domain.ComposedPost{
		Text:         text,
		Hashtags:     hashtags,
		CallToAction: cta,
		ImageURL:     article.ImageURL,
		ArticleURL:   article.URL,
	}
}

func (c *Composer) headline(title string) string {
	cleaned := strings.TrimSpace(title)
	lower := strings.ToLower(cleaned)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			lower = strings.ToLower(cleaned)
			break
		}
	}

	if !strings.HasPrefix(cleaned, urgencyMark) && !strings.HasPrefix(cleaned, excitementMark) {
		if containsAny(lower, urgencyVocab) {
			cleaned = urgencyMark + " " + cleaned
		} else if containsAny(lower, innovationVocab) {
			cleaned = excitementMark + " " + cleaned
		}
	}

	return truncate(cleaned, headlineLimit)
}

func (c *Composer) summary(summary, body string) string {
	if s := strings.TrimSpace(summary); s != "" {
		return truncate(s, summaryLimit)
	}

	var picked []string
	for _, sentence := range splitSentences(body) {
		if len([]rune(sentence)) >= 20 {
			picked = append(picked, sentence)
		}
		if len(picked) == 2 {
			break
		}
	}
	if len(picked) > 0 {
		return truncate(strings.Join(picked, " "), summaryLimit)
	}
	return fallbackSummary
}

func (c *Composer) hashtags(title, summary, body, source string) []string {
	tags := make([]string, 0, c.maxHashtags)
	seen := make(map[string]struct{})
	add := func(tag string) {
		if len(tags) >= c.maxHashtags {
			return
		}
		if _, dup := seen[strings.ToLower(tag)]; dup {
			return
		}
		seen[strings.ToLower(tag)] = struct{}{}
		tags = append(tags, tag)
	}

	for _, base := range c.baseline {
		add(base)
	}

	haystack := strings.ToLower(title + " " + summary + " " + body)
	for _, rule := range hashtagRules {
		if strings.Contains(haystack, rule.keyword) {
			add(rule.tag)
		}
	}

	if tag := sourceHashtag(source); tag != "" {
		add(tag)
	}

	return tags
}

// sourceHashtag derives a tag from the source name, skipped when too long.
func sourceHashtag(source string) string {
	var b strings.Builder
	upper := true
	for _, r := range source {
		switch {
		case r >= 'a' && r <= 'z':
			if upper {
				b.WriteRune(r - 'a' + 'A')
				upper = false
			} else {
				b.WriteRune(r)
			}
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			upper = false
		default:
			upper = true
		}
	}
	if b.Len() == 0 || b.Len() > 15 {
		return ""
	}
	return "#" + b.String()
}

func (c *Composer) callToAction(title, summary string) string {
	haystack := strings.ToLower(title + " " + summary)
	for _, set := range ctaSets {
		if containsAny(haystack, set.keywords) {
			return set.options[c.pick(len(set.options))]
		}
	}
	return genericCTAs[c.pick(len(genericCTAs))]
}

// assemble joins the sections and, when over budget, re-derives the text by
// keeping headline and hashtag lines verbatim and truncating only the
// summary region.
func assemble(headline, summary, cta string, hashtags []string, maxLength int) string {
	tagLine := strings.Join(hashtags, " ")
	full := headline + "\n\n" + summary + "\n\n" + cta + "\n\n" + tagLine
	if len([]rune(full)) <= maxLength {
		return full
	}

	overhead := len([]rune(headline)) + len([]rune(cta)) + len([]rune(tagLine)) + 6
	available := maxLength - overhead
	if available >= 10 {
		return headline + "\n\n" + truncate(summary, available) + "\n\n" + cta + "\n\n" + tagLine
	}

	// Not even room for a truncated summary: drop the call-to-action too.
	overhead = len([]rune(headline)) + len([]rune(tagLine)) + 4
	available = maxLength - overhead
	if available < 4 {
		return truncate(headline+"\n\n"+tagLine, maxLength)
	}
	return headline + "\n\n" + truncate(summary, available) + "\n\n" + tagLine
}

// containsAny matches needles as whole words (plural-tolerant), so short
// vocabulary entries like "ai" never fire inside unrelated words.
func containsAny(haystack string, needles []string) bool {
	for _, tok := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, n := range needles {
			if tok == n || tok == n+"s" {
				return true
			}
		}
	}
	return false
}

func truncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}

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

// stripHTML flattens markup that some feeds put into titles and bodies.
func stripHTML(text string) string {
	if !strings.ContainsRune(text, '<') {
		return strings.TrimSpace(text)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.TrimSpace(text)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
