package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"truckpress/internal/config"
	"truckpress/internal/domain"
	"truckpress/internal/ports"
)

// Client talks to the driver-network social API. Failures are classified
// into retryable (network, timeout, rate limit, server error) and terminal
// (malformed payload, rejected credentials) so the orchestrator can apply
// the right retry policy.
type Client struct {
	baseURL      string
	http         *http.Client
	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

var _ ports.DeliveryClient = (*Client)(nil)

// NewClient creates a reusable HTTP client from configuration.
func NewClient(cfg config.DeliveryConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}
}

// CreatePost publishes a composed post and returns its delivery receipt.
// On an expired token it refreshes once and replays the request.
func (c *Client) CreatePost(ctx context.Context, req ports.CreatePostRequest) (ports.PostReceipt, error) {
	payload := map[string]any{"text": req.Text}
	if req.ImageURL != "" {
		payload["image_url"] = req.ImageURL
	}
	if req.ArticleURL != "" {
		payload["article_url"] = req.ArticleURL
	}

	var resp struct {
		ID        string `json:"id"`
		Permalink string `json:"permalink"`
	}
	if err := c.call(ctx, http.MethodPost, "/posts", payload, &resp); err != nil {
		return ports.PostReceipt{}, err
	}
	if resp.ID == "" {
		return ports.PostReceipt{}, &domain.DeliveryError{
			Op: "createPost", Retryable: false,
			Err: fmt.Errorf("response missing post id"),
		}
	}
	return ports.PostReceipt{ExternalPostID: resp.ID, Permalink: resp.Permalink}, nil
}

// GetMetrics fetches the engagement snapshot for a delivered post.
func (c *Client) GetMetrics(ctx context.Context, externalPostID string) (domain.EngagementMetrics, error) {
	var resp struct {
		Likes     int `json:"likes"`
		Comments  int `json:"comments"`
		Shares    int `json:"shares"`
		Reactions int `json:"reactions"`
	}
	path := "/posts/" + externalPostID + "/insights"
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return domain.EngagementMetrics{}, err
	}
	return domain.EngagementMetrics{
		Likes:     resp.Likes,
		Comments:  resp.Comments,
		Shares:    resp.Shares,
		Reactions: resp.Reactions,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// RefreshToken exchanges the refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()
	if refresh == "" {
		return &domain.DeliveryError{Op: "refreshToken", Retryable: false,
			Err: fmt.Errorf("no refresh token configured")}
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
	})
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.DeliveryError{Op: "refreshToken", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classify("refreshToken", resp)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	err := c.do(ctx, method, path, payload, out)

	// One transparent refresh on an expired credential, then replay.
	var de *domain.DeliveryError
	if errors.As(err, &de) && de.StatusCode == http.StatusUnauthorized {
		if refreshErr := c.RefreshToken(ctx); refreshErr != nil {
			return err
		}
		return c.do(ctx, method, path, payload, out)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.DeliveryError{Op: opName(method, path), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return classify(opName(method, path), resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps an error status onto the retryable/terminal taxonomy:
// 429 and 5xx are retryable, every other 4xx is terminal.
func classify(op string, resp *http.Response) *domain.DeliveryError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
	return &domain.DeliveryError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  retryable,
		Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet))),
	}
}

func opName(method, path string) string {
	return method + " " + path
}
