// Package remote is the client for the comment and file sync service.
//
// Every privileged call requires an Identity carrying a user id. Calls made
// without one fail with an AuthError before any request is sent.
package remote

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// UserIDCookie is the credential key holding the user id.
const UserIDCookie = "user_id"

// Identity is the set of credentials pushed by the caller, keyed by cookie name.
type Identity map[string]string

// UserID returns the authenticated user id, or "".
func (id Identity) UserID() string {
	return id[UserIDCookie]
}

// Clone returns a copy that does not share the underlying map.
func (id Identity) Clone() Identity {
	if id == nil {
		return nil
	}
	out := make(Identity, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}

// cookies returns the identity as request cookies, sorted by name.
func (id Identity) cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(id))
	for name, value := range id {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config configures a Client.
type Config struct {
	// BaseURL is the root of the remote service, e.g. http://localhost:9000.
	BaseURL string

	// ProductName selects the upload folder /boards/<product>.
	ProductName string

	// Timeout bounds every request.
	Timeout time.Duration

	// UploadRate and UploadBurst throttle board uploads.
	UploadRate  rate.Limit
	UploadBurst int

	Logger zerolog.Logger
}

// DefaultConfig returns the configuration for a local development service.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:9000",
		ProductName: "productflo",
		Timeout:     30 * time.Second,
		UploadRate:  rate.Limit(2),
		UploadBurst: 4,
		Logger:      zerolog.Nop(),
	}
}

// Client talks to the remote sync service.
type Client struct {
	baseURL    *url.URL
	product    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     *bluemonday.Policy
	logger     zerolog.Logger
}

// New creates a client with the default configuration for baseURL.
func New(baseURL string) (*Client, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	return NewWithConfig(cfg)
}

// NewWithConfig creates a client from cfg.
func NewWithConfig(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	if cfg.ProductName == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UploadRate <= 0 {
		cfg.UploadRate = rate.Inf
	}
	if cfg.UploadBurst <= 0 {
		cfg.UploadBurst = 1
	}

	return &Client{
		baseURL:    u,
		product:    cfg.ProductName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.UploadRate, cfg.UploadBurst),
		policy:     bluemonday.StrictPolicy(),
		logger:     cfg.Logger,
	}, nil
}

// do sends a request to path relative to the base URL with the identity's cookies attached.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, id Identity) (*http.Response, error) {
	target := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, cookie := range id.cookies() {
		req.AddCookie(cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", target.String()).Msg("remote request failed")
		return nil, fmt.Errorf("remote unavailable: %w", err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("url", target.String()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("remote request")
	return resp, nil
}

// drain reads a bounded amount of the body for error messages and closes it.
// Error pages are often HTML, so markup is stripped down to its text.
func (c *Client) drain(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := html.UnescapeString(c.policy.Sanitize(string(b)))
	return strings.Join(strings.Fields(text), " ")
}
