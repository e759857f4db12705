package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/logging"
)

// Fallback patterns for pages where the form values are not plain inputs.
var (
	guidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)name="Guid"[^>]*value="([^"]+)"`),
		regexp.MustCompile(`(?i)id="Guid"[^>]*value="([^"]+)"`),
		regexp.MustCompile(`(?i)value="([^"]+)"[^>]*name="Guid"`),
	}
	messageIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)name="MessageId"[^>]*value="([^"]+)"`),
		regexp.MustCompile(`(?i)id="MessageId"[^>]*value="([^"]+)"`),
		regexp.MustCompile(`(?i)value="([^"]+)"[^>]*name="MessageId"`),
	}
	replyAddressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)id="ReplyAddress"[^>]*value="([^"]+)"`),
		regexp.MustCompile(`(?i)name="ReplyAddress"[^>]*value="([^"]+)"`),
	}
)

// Tokens fetches the reply page and extracts the hidden form values. Guid
// and MessageId are required; ReplyAddress may be empty.
func (c *Client) Tokens(ctx context.Context, pageURL string) (domain.FormToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.FormToken{}, fmt.Errorf("garmin: Tokens: %w", err)
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.FormToken{}, fmt.Errorf("garmin: Tokens: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.FormToken{}, fmt.Errorf("%w: page status %d", ErrNoToken, resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.FormToken{}, fmt.Errorf("garmin: Tokens: read page: %w", err)
	}

	tok := scrapeTokens(page)
	if tok.GUID == "" || tok.DeviceMessageID == "" {
		logging.From(ctx, c.logger).Warn("reply form values missing", "page_bytes", len(page), "guid_found", tok.GUID != "")
		return domain.FormToken{}, fmt.Errorf("%w: guid or message id missing", ErrNoToken)
	}
	return tok, nil
}

// scrapeTokens reads <input> values keyed by id or name, then falls back to
// the raw patterns for anything still missing.
func scrapeTokens(page []byte) domain.FormToken {
	fields := inputValues(page)
	tok := domain.FormToken{
		GUID:            fields["guid"],
		DeviceMessageID: fields["messageid"],
		ReplyAddress:    fields["replyaddress"],
	}
	if tok.GUID == "" {
		tok.GUID = firstMatch(page, guidPatterns)
	}
	if tok.DeviceMessageID == "" {
		tok.DeviceMessageID = firstMatch(page, messageIDPatterns)
	}
	if tok.ReplyAddress == "" {
		tok.ReplyAddress = firstMatch(page, replyAddressPatterns)
	}
	return tok
}

func inputValues(page []byte) map[string]string {
	fields := make(map[string]string)
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return fields
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if t.DataAtom != atom.Input {
				continue
			}
			var id, name, value string
			for _, a := range t.Attr {
				switch a.Key {
				case "id":
					id = a.Val
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}
			if value == "" {
				continue
			}
			for _, key := range []string{id, name} {
				key = strings.ToLower(key)
				if _, seen := fields[key]; key != "" && !seen {
					fields[key] = value
				}
			}
		}
	}
}

func firstMatch(page []byte, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindSubmatch(page); m != nil {
			return string(m[1])
		}
	}
	return ""
}
