package toolbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"satcom-gateway/internal/logging"
)

const (
	DefaultUserAgent = "SatComGateway/15.0 (satellite-emergency-assistant)"

	defaultTimeout = 15 * time.Second
	maxBodySize    = 2 << 20
	previewLen     = 100
)

// Option configures a tool adapter.
type Option func(*client)

// WithBaseURL overrides the adapter's endpoint (used in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

// client is the HTTP plumbing shared by every adapter.
type client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

func newClient(defaultBaseURL string, opts []Option) client {
	c := client{
		baseURL:   defaultBaseURL,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// get fetches rawURL and returns the body of a 200 response. Any other
// status is a ToolError carrying HTTP_<status>.
func (c client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ToolError{Code: CodeException, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ToolError{Code: CodeException, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	if err != nil {
		return nil, &ToolError{Code: CodeException, Err: err}
	}
	return body, nil
}

func (c client) logCall(ctx context.Context, tool, rawURL, data string, err error) {
	logger := logging.From(ctx, c.logger)
	if err != nil {
		logger.Warn("tool call failed", "tool", tool, "url", rawURL, "status", "ERR:"+codeOf(err), "error", err)
		return
	}
	logger.Info("tool call", "tool", tool, "url", rawURL, "status", "OK", "preview", preview(data))
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
