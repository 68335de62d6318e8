package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"truckpress/internal/domain"
	"truckpress/internal/scanner"
)

// RSSScanner parses RSS 2.0 documents into raw items.
type RSSScanner struct {
	client   *http.Client
	maxItems int
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client; maxItems defaults to 50 per source.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSScanner{client: client, maxItems: 50}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Content     string   `xml:"encoded"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
	Enclosure   struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	} `xml:"enclosure"`
	Media struct {
		URL string `xml:"url,attr"`
	} `xml:"content"`
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Scan fetches and parses the source's RSS document.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawItem, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "truckpress/1.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", req.SourceName, resp.Status)
	}

	var doc rssDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]domain.RawItem, 0, len(doc.Channel.Items))
	for i, entry := range doc.Channel.Items {
		if i >= s.maxItems {
			break
		}
		items = append(items, s.toRawItem(entry, req))
	}
	return items, nil
}

func (s *RSSScanner) toRawItem(entry rssItem, req scanner.Request) domain.RawItem {
	body := strings.TrimSpace(entry.Content)
	if body == "" {
		body = strings.TrimSpace(entry.Description)
	}

	image := ""
	if strings.HasPrefix(entry.Enclosure.Type, "image/") {
		image = entry.Enclosure.URL
	}
	if image == "" {
		image = entry.Media.URL
	}

	return domain.RawItem{
		Title:           strings.TrimSpace(entry.Title),
		URL:             strings.TrimSpace(entry.Link),
		Summary:         strings.TrimSpace(entry.Description),
		Body:            body,
		Source:          req.SourceName,
		PublishedAt:     parsePubDate(entry.PubDate),
		ImageURL:        image,
		Tags:            entry.Categories,
		EngagementPrior: req.Priority,
	}
}

func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
