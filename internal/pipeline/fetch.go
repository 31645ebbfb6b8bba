package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pcbview/boardworker/internal/board"
)

// DefaultMaxFetchBytes caps the size of a downloaded design.
const DefaultMaxFetchBytes = 128 << 20

// Fetcher downloads designs referenced by URL.
type Fetcher struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

// NewFetcher creates a fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: timeout},
		MaxBytes:   DefaultMaxFetchBytes,
	}
}

// URLToStackups fetches rawURL and transforms the response like FilesToStackups.
// The last path segment of the URL is used as the filename.
func (f *Fetcher) URLToStackups(ctx context.Context, rawURL string) (Stackups, error) {
	file, err := f.fetch(ctx, rawURL)
	if err != nil {
		return Stackups{}, err
	}
	return FilesToStackups([]File{file})
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (File, error) {
	const op = "pipeline.URLToStackups"

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return File{}, board.Errorf(board.KindFetch, op, "invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return File{}, board.E(board.KindFetch, op, fmt.Errorf("failed to create request: %w", err))
	}

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return File{}, board.E(board.KindFetch, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := board.Errorf(board.KindFetch, op, "GET %s: unexpected status %d", rawURL, resp.StatusCode)
		e.Status = resp.StatusCode
		return File{}, e
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFetchBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return File{}, board.E(board.KindFetch, op, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > limit {
		return File{}, board.Errorf(board.KindFetch, op, "response exceeds %d bytes", limit)
	}

	return File{Name: urlFilename(u), Data: data}, nil
}

func urlFilename(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return u.Host
	}
	return name
}
