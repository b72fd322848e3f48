package musicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// DefaultServer is the upstream used when no base URL is configured.
const DefaultServer = "http://120.48.77.142:3200/"

const codeOK = 200

// Song is one search hit.
type Song struct {
	MID      string `json:"mid"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"` // seconds
}

// DurationString formats the song length as m:ss.
func (s Song) DurationString() string {
	if s.Duration <= 0 {
		return "--:--"
	}
	return fmt.Sprintf("%d:%02d", s.Duration/60, s.Duration%60)
}

// searchResponse is the envelope returned by GET /search.
type searchResponse struct {
	Code int `json:"code"`
	Data struct {
		List []Song `json:"list"`
	} `json:"data"`
}

// urlResponse is the envelope returned by GET /geturl.
type urlResponse struct {
	Code int `json:"code"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// ResolutionError means the upstream could not produce a playable URL.
type ResolutionError struct {
	MID  string
	Code int
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve mid %s (code %d): %v", e.MID, e.Code, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
}

// Client talks to the upstream music search and URL resolution API.
type Client struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. An empty BaseURL uses DefaultServer.
func NewClient(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultServer
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		base:    base,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string { return c.base }

// Search returns the ordered hits for keyword.
func (c *Client) Search(ctx context.Context, keyword string) ([]Song, error) {
	var resp searchResponse
	if err := c.get(ctx, "search", url.Values{"word": {keyword}}, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("search %q: upstream code %d", keyword, resp.Code)
	}
	return resp.Data.List, nil
}

// ResolveURL returns the playable URL for mid. Any failure, including an
// upstream code other than 200 or an empty URL, is a *ResolutionError.
func (c *Client) ResolveURL(ctx context.Context, mid string) (string, error) {
	var resp urlResponse
	if err := c.get(ctx, "geturl", url.Values{"mid": {mid}}, &resp); err != nil {
		return "", &ResolutionError{MID: mid, Err: err}
	}
	if resp.Code != codeOK {
		return "", &ResolutionError{MID: mid, Code: resp.Code, Err: fmt.Errorf("upstream code %d", resp.Code)}
	}
	if resp.Data.URL == "" {
		return "", &ResolutionError{MID: mid, Code: resp.Code, Err: fmt.Errorf("empty url")}
	}
	return resp.Data.URL, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error (status %d): %s", endpoint, resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
