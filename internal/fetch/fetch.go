package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ChunkSize is the buffer used to stream response bodies to disk.
	ChunkSize = 8 << 10

	DefaultTimeout = 30 * time.Second

	userAgent = "musicbot/1.0"

	fallbackName = "source"
)

// Result describes a completed download.
type Result struct {
	Path string
	Size int64
}

// FetchError is returned for every download failure: bad URL, network error,
// non-2xx status or a local write failure. StatusCode is 0 unless the server
// answered.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher streams remote resources to local files.
type Fetcher struct {
	client *http.Client
	dir    string
}

// New creates a fetcher that writes into dir when no explicit destination is
// given. A zero timeout uses DefaultTimeout.
func New(dir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		dir:    dir,
	}
}

// NewWithClient creates a fetcher using a caller-provided HTTP client.
func NewWithClient(dir string, client *http.Client) *Fetcher {
	return &Fetcher{client: client, dir: dir}
}

// Fetch downloads rawURL to destPath, or to a file in the fetcher's directory
// named after the URL path when destPath is empty. The body is copied in
// ChunkSize pieces. On any failure the partial file is removed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (*Result, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(rawURL), Err: err}
	}
	if destPath == "" {
		destPath = filepath.Join(f.dir, FileName(u))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(rawURL), Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(rawURL), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: RedactURL(rawURL), StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, &FetchError{URL: RedactURL(rawURL), Err: fmt.Errorf("mkdir: %w", err)}
	}
	out, err := os.Create(destPath)
	if err != nil {
		return nil, &FetchError{URL: RedactURL(rawURL), Err: fmt.Errorf("create: %w", err)}
	}

	buf := make([]byte, ChunkSize)
	// Hide ReaderFrom/WriterTo so the copy really goes through buf.
	n, err := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{resp.Body}, buf)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return nil, &FetchError{URL: RedactURL(rawURL), Err: fmt.Errorf("copy body: %w", err)}
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return nil, &FetchError{URL: RedactURL(rawURL), Err: fmt.Errorf("close: %w", err)}
	}

	return &Result{Path: destPath, Size: n}, nil
}

// FileName derives a local file name from the URL path, dropping the query.
func FileName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == ".." || name == "/" {
		return fallbackName
	}
	return name
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// RedactURL drops the query string, which carries upstream signing keys.
func RedactURL(s string) string {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i] + "?[redacted]"
	}
	return s
}
