package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"
const defaultTimeout = 120 * time.Second
const maxRetries = 3
const maxRetryAfter = 30 * time.Second

// Client is a thin GitHub REST client. The bearer token is supplied per
// call because each dataset authenticates independently.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Client{BaseURL: base, HTTP: httpClient}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	if c.HTTP.Timeout > 0 {
		return c.HTTP
	}
	copy := *c.HTTP
	copy.Timeout = defaultTimeout
	return &copy
}

// ListUserRepos pages through every repository visible to the token.
func (c *Client) ListUserRepos(ctx context.Context, token string) ([]any, error) {
	return c.listAll(ctx, token, c.BaseURL+"/user/repos?per_page=100&sort=full_name")
}

// ListUserIssues pages through issues assigned to the token's user.
func (c *Client) ListUserIssues(ctx context.Context, token string) ([]any, error) {
	return c.listAll(ctx, token, c.BaseURL+"/issues?per_page=100&filter=all&state=all")
}

// GetAuthenticatedUser fetches the token's user record.
func (c *Client) GetAuthenticatedUser(ctx context.Context, token string) (any, error) {
	var out any
	if err := c.getJSON(ctx, token, c.BaseURL+"/user", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRateLimit fetches the token's current rate limit buckets.
func (c *Client) GetRateLimit(ctx context.Context, token string) (any, error) {
	var out any
	if err := c.getJSON(ctx, token, c.BaseURL+"/rate_limit", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIssue opens an issue in owner/repo.
func (c *Client) CreateIssue(ctx context.Context, token, owner, repo string, payload any) (any, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.BaseURL, owner, repo)
	return c.postJSON(ctx, token, url, payload)
}

// CreateRepoHook registers a webhook on owner/repo and returns the
// provider's hook record.
func (c *Client) CreateRepoHook(ctx context.Context, token, owner, repo, callbackURL, secret string) (map[string]any, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/hooks", c.BaseURL, owner, repo)
	result, err := c.postJSON(ctx, token, url, map[string]any{
		"name":   "web",
		"active": true,
		"events": []string{"repository", "push", "issues"},
		"config": map[string]any{
			"url":          callbackURL,
			"content_type": "json",
			"secret":       secret,
		},
	})
	if err != nil {
		return nil, err
	}
	hook, ok := result.(map[string]any)
	if !ok {
		return nil, errors.New("github hook response is not an object")
	}
	return hook, nil
}

func (c *Client) listAll(ctx context.Context, token, url string) ([]any, error) {
	var out []any
	for url != "" {
		items, next, err := c.getRawPage(ctx, token, url)
		if err != nil {
			return nil, err
		}
		for _, raw := range items {
			var rec any
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		url = next
	}
	return out, nil
}

func (c *Client) getRawPage(ctx context.Context, token, url string) ([]json.RawMessage, string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, token, url, nil)
	if err != nil {
		return nil, "", err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", formatAPIError("github api failed", resp, body)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, "", err
	}
	return items, parseNextLink(resp.Header.Get("Link")), nil
}

func (c *Client) getJSON(ctx context.Context, token, url string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, token, url, nil)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return formatAPIError("github api failed", resp, body)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) postJSON(ctx context.Context, token, url string, payload any) (any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, http.MethodPost, token, url, encoded)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, formatAPIError("github api failed", resp, body)
	}
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, token, url string, body []byte) (*http.Response, error) {
	httpClient := c.httpClient()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		req.Header.Set("User-Agent", "conflux")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries && shouldRetryError(ctx, err) {
				if err := sleepWithContext(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if attempt < maxRetries && shouldRetryStatus(resp) {
			drainAndClose(resp.Body)
			if err := sleepWithContext(ctx, retryDelay(resp, attempt)); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
	return nil, errors.New("github request failed after retries")
}

func formatAPIError(prefix string, resp *http.Response, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, payload.Message)
	}
	msg := strings.Join(strings.Fields(string(body)), " ")
	if strings.HasPrefix(msg, "<!DOCTYPE html") || strings.HasPrefix(msg, "<html") {
		msg = ""
	}
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	if msg != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, msg)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}

func parseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return strings.TrimSpace(part[start+1 : end])
		}
	}
	return ""
}

func shouldRetryStatus(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func shouldRetryError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp == nil {
		return backoffDelay(attempt)
	}
	if d := retryAfter(resp); d > 0 {
		return d
	}
	return backoffDelay(attempt)
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		d := time.Duration(secs) * time.Second
		return min(d, maxRetryAfter)
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return min(d, maxRetryAfter)
	}
	return 0
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	d := 200 * time.Millisecond
	for range attempt {
		d *= 2
		if d >= 5*time.Second {
			return 5 * time.Second
		}
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	_ = r.Close()
}
