package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Fetcher retrieves the raw bytes of one resource.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FSFetcher reads resources from a filesystem such as os.DirFS or the
// embedded frontend bundle.
type FSFetcher struct {
	FS fs.FS
}

// Fetch reads name from the filesystem.
func (f FSFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(clean) {
		return nil, fmt.Errorf("assets: invalid path %q", name)
	}
	return fs.ReadFile(f.FS, clean)
}

// HTTPFetcher downloads resources relative to BaseURL.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	// MaxBytes caps a single response body. Zero means 32 MiB.
	MaxBytes int64
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("assets: GET %s: status %d", e.URL, e.StatusCode)
}

// Fetch issues a GET for name.
func (f HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	base, err := url.Parse(strings.TrimSuffix(f.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("assets: parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimPrefix(name, "/"))
	if err != nil {
		return nil, fmt.Errorf("assets: parse path %q: %w", name, err)
	}
	target := base.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("assets: build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assets: GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("assets: read %s: %w", target, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("assets: %s exceeds %d bytes", target, limit)
	}
	return body, nil
}
