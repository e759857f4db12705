// Package garmin delivers replies to an inReach device through the
// MapShare/explore reply form: it resolves short links, scrapes the reply
// form tokens and posts each page of the answer.
package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/logging"
)

const (
	EndpointSuffix   = "/TextMessage/TxtMsg"
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultPageDelay = 5 * time.Second

	maxRedirects   = 5
	defaultTimeout = 30 * time.Second
	maxBodySize    = 1 << 20
	adrParam       = "&adr="
)

var (
	ErrNoToken        = errors.New("garmin: reply form tokens not found")
	ErrNoReplyAddress = errors.New("garmin: no reply address")
	ErrRejected       = errors.New("garmin: reply rejected")

	extIDPattern = regexp.MustCompile(`extId=([a-zA-Z0-9\-_]+)`)
	adrPattern   = regexp.MustCompile(`adr=([^&\s]+)`)
)

// Client posts replies to the device reply endpoint.
type Client struct {
	httpClient *http.Client
	simulate   bool
	pageDelay  time.Duration
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSimulate turns every post into a logged no-op that never touches the
// network.
func WithSimulate(simulate bool) Option {
	return func(c *Client) {
		c.simulate = simulate
	}
}

func WithPageDelay(d time.Duration) Option {
	return func(c *Client) {
		c.pageDelay = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		pageDelay: DefaultPageDelay,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// IsShortLink reports whether link needs Resolve before it can be posted to.
func IsShortLink(link string) bool {
	return strings.Contains(strings.ToLower(link), "inreachlink.com")
}

// Resolve walks the redirect chain of a short link one response at a time
// and returns the first location carrying an extId. The recipient address is
// appended as adr when the resolved link lacks one. On error the original
// link is returned alongside it. Simulated clients return link unchanged.
func (c *Client) Resolve(ctx context.Context, link, recipient string) (string, error) {
	if c.simulate {
		logging.From(ctx, c.logger).Info("simulated short link, not resolved", "link", link)
		return link, nil
	}
	noFollow := *c.httpClient
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	logger := logging.From(ctx, c.logger)

	current := link
	resolved := ""
	for hop := 0; hop < maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return link, fmt.Errorf("garmin: Resolve: %w", err)
		}
		resp, err := noFollow.Do(req)
		if err != nil {
			return link, fmt.Errorf("garmin: Resolve: %w", err)
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()

		if resp.StatusCode < 300 || resp.StatusCode >= 400 {
			logger.Debug("redirect chain ended", "status", resp.StatusCode, "hop", hop)
			break
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			break
		}
		next, err := req.URL.Parse(loc)
		if err != nil {
			return link, fmt.Errorf("garmin: Resolve: bad location %q: %w", loc, err)
		}
		current = next.String()
		if extIDPattern.MatchString(current) {
			resolved = current
			break
		}
	}

	if resolved == "" {
		logger.Warn("short link did not resolve to a reply page", "link", link)
		return link, nil
	}
	if recipient != "" && !strings.Contains(resolved, "adr=") {
		resolved += adrParam + url.QueryEscape(recipient)
	}
	return resolved, nil
}

// Post sends one reply message to the device behind link.
func (c *Client) Post(ctx context.Context, link, message string) error {
	logger := logging.From(ctx, c.logger)
	if c.simulate {
		logger.Info("simulated post", "message", message)
		return nil
	}

	pageURL, _, _ := strings.Cut(link, adrParam)
	tok, err := c.Tokens(ctx, pageURL)
	if err != nil {
		logger.Warn("reply form scrape failed, using link parameters", "error", err)
		if tok, err = fallbackToken(link, c.now()); err != nil {
			return err
		}
	}
	if tok.ReplyAddress == "" {
		tok.ReplyAddress = adrFromLink(link)
	}
	if tok.ReplyAddress == "" {
		return ErrNoReplyAddress
	}

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return fmt.Errorf("garmin: Post: bad link %q", link)
	}
	origin := u.Scheme + "://" + u.Host

	payload, err := json.Marshal(replyPayload{
		GUID:         tok.GUID,
		ReplyAddress: tok.ReplyAddress,
		MessageID:    tok.DeviceMessageID,
		ReplyMessage: message,
	})
	if err != nil {
		return fmt.Errorf("garmin: Post: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+EndpointSuffix, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("garmin: Post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", pageURL)
	req.Header.Set("Origin", origin)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("garmin: Post: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(string(body), 200))
	}
	return checkReplyBody(body)
}

type replyPayload struct {
	GUID         string `json:"Guid"`
	ReplyAddress string `json:"ReplyAddress"`
	MessageID    string `json:"MessageId"`
	ReplyMessage string `json:"ReplyMessage"`
}

// checkReplyBody accepts a 200 response unless its JSON body explicitly
// flags an error. Bodies that are not JSON count as success.
func checkReplyBody(body []byte) error {
	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return nil
	}
	if res["Success"] == true || res["success"] == true {
		return nil
	}
	if res["error"] == true {
		msg, _ := res["message"].(string)
		if msg == "" {
			msg = "unknown"
		}
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}

// Send posts segments in order, pausing between them. It stops at the first
// failed segment and returns how many were delivered.
func (c *Client) Send(ctx context.Context, link string, segments []domain.DeliverySegment) (int, error) {
	logger := logging.From(ctx, c.logger)
	for i, seg := range segments {
		logger.Info("sending segment", "index", seg.Index, "total", seg.Total, "preview", truncate(seg.Payload, 50))
		if err := c.Post(ctx, link, seg.Payload); err != nil {
			return i, fmt.Errorf("garmin: segment %d/%d: %w", seg.Index, seg.Total, err)
		}
		if i < len(segments)-1 && !c.simulate {
			if err := c.sleep(ctx, c.pageDelay); err != nil {
				return i + 1, fmt.Errorf("garmin: Send: %w", err)
			}
		}
	}
	return len(segments), nil
}

// fallbackToken rebuilds the form values from the link itself. The message
// id is synthesized, so the endpoint may not accept it.
func fallbackToken(link string, now time.Time) (domain.FormToken, error) {
	ext := extIDPattern.FindStringSubmatch(link)
	adr := adrFromLink(link)
	if ext == nil || adr == "" {
		return domain.FormToken{}, fmt.Errorf("%w: link lacks extId or adr", ErrNoToken)
	}
	return domain.FormToken{
		GUID:            ext[1],
		DeviceMessageID: strconv.FormatInt(now.Unix(), 10),
		ReplyAddress:    adr,
	}, nil
}

func adrFromLink(link string) string {
	m := adrPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	if v, err := url.PathUnescape(m[1]); err == nil {
		return v
	}
	return m[1]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
