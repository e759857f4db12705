// Package mailparse turns a raw RFC 5322 message, as relayed by SES, into an
// inbox message carrying the plain-text body.
package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html"

	"satcom-gateway/internal/domain"
)

const maxPartSize = 1 << 20

var (
	ErrNoBody = errors.New("mailparse: no text body")

	decoder = new(mime.WordDecoder)
)

// Parse reads raw and returns a pending inbox message. now stamps messages
// without a usable Date header.
func Parse(raw []byte, now time.Time) (domain.InboundMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("mailparse: read message: %w", err)
	}
	h := msg.Header

	body, err := textBody(h.Get("Content-Type"), h.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return domain.InboundMessage{}, err
	}

	received := now
	if d, err := h.Date(); err == nil {
		received = d
	}

	return domain.InboundMessage{
		ID:         strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>"),
		From:       firstAddress(h.Get("From")),
		To:         firstAddress(h.Get("To")),
		Subject:    decodeHeader(h.Get("Subject")),
		Body:       normalizeNewlines(body),
		ReceivedAt: received.UTC(),
		Status:     domain.StatusPending,
	}, nil
}

// textBody returns the first text/plain part, or the text of the first
// text/html part when there is no plain one.
func textBody(contentType, encoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if contentType == "" || err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		var htmlFallback string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", fmt.Errorf("mailparse: read part: %w", err)
			}
			text, err := textBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if errors.Is(err, ErrNoBody) {
				continue
			}
			if err != nil {
				return "", err
			}
			ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if ct == "text/html" {
				if htmlFallback == "" {
					htmlFallback = text
				}
				continue
			}
			return text, nil
		}
		if htmlFallback != "" {
			return htmlFallback, nil
		}
		return "", ErrNoBody
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", ErrNoBody
	}
	data, err := io.ReadAll(io.LimitReader(decodeTransfer(encoding, r), maxPartSize))
	if err != nil {
		return "", fmt.Errorf("mailparse: decode body: %w", err)
	}
	if mediaType == "text/html" {
		return htmlText(data), nil
	}
	return string(data), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	default:
		return r
	}
}

// newlineStripper drops the line breaks base64 bodies are wrapped with.
type newlineStripper struct {
	r io.Reader
}

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		kept := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[kept] = b
				kept++
			}
		}
		if kept > 0 || err != nil {
			return kept, err
		}
	}
}

// htmlText keeps the text nodes of an HTML body, one block per line.
func htmlText(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "tr":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if n := string(name); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func firstAddress(header string) string {
	if header == "" {
		return ""
	}
	list, err := mail.ParseAddressList(header)
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(header)
	}
	return list[0].Address
}

func decodeHeader(v string) string {
	if s, err := decoder.DecodeHeader(v); err == nil {
		return s
	}
	return v
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
