package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"truckpress/internal/domain"
	"truckpress/internal/scanner"
)

// Option keys for HTML sources; selectors default to common news-listing
// markup when unset.
const (
	optItemSelector    = "itemSelector"
	optTitleSelector   = "titleSelector"
	optLinkSelector    = "linkSelector"
	optSummarySelector = "summarySelector"
	optDateSelector    = "dateSelector"
	optDateLayout      = "dateLayout"
)

// HTMLScanner crawls listing pages of sources that expose no feed and
// extracts items via configurable CSS selectors.
type HTMLScanner struct {
	client   *http.Client
	maxItems int
}

var _ scanner.Scanner = (*HTMLScanner)(nil)

// NewHTMLScanner wires an HTTP client; maxItems defaults to 30 per source.
func NewHTMLScanner(client *http.Client) *HTMLScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLScanner{client: client, maxItems: 30}
}

// Name identifies the strategy inside the registry.
func (s *HTMLScanner) Name() string {
	return "html"
}

// Scan fetches the listing page and extracts one item per matched node.
func (s *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	doc, err := s.fetchDocument(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", req.URL, err)
	}

	itemSel := option(req.Options, optItemSelector, "article")
	titleSel := option(req.Options, optTitleSelector, "h2, h3")
	linkSel := option(req.Options, optLinkSelector, "a")
	summarySel := option(req.Options, optSummarySelector, "p")
	dateSel := option(req.Options, optDateSelector, "time")
	dateLayout := option(req.Options, optDateLayout, "2006-01-02")

	var items []domain.RawItem
	doc.Find(itemSel).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(items) >= s.maxItems {
			return false
		}

		title := strings.TrimSpace(sel.Find(titleSel).First().Text())
		href, _ := sel.Find(linkSel).First().Attr("href")
		if title == "" || href == "" {
			return true
		}

		link := href
		if parsed, err := url.Parse(href); err == nil {
			link = base.ResolveReference(parsed).String()
		}

		summary := strings.TrimSpace(sel.Find(summarySel).First().Text())

		published := time.Now().UTC()
		if raw, ok := sel.Find(dateSel).First().Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				published = parsed.UTC()
			}
		} else if raw := strings.TrimSpace(sel.Find(dateSel).First().Text()); raw != "" {
			if parsed, err := time.Parse(dateLayout, raw); err == nil {
				published = parsed.UTC()
			}
		}

		image, _ := sel.Find("img").First().Attr("src")

		items = append(items, domain.RawItem{
			Title:           title,
			URL:             link,
			Summary:         summary,
			Body:            summary,
			Source:          req.SourceName,
			PublishedAt:     published,
			ImageURL:        image,
			EngagementPrior: req.Priority,
		})
		return true
	})

	return items, nil
}

func (s *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "truckpress/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func option(options map[string]string, key, fallback string) string {
	if v, ok := options[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
