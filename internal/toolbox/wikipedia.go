package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultWikipediaURL = "https://en.wikipedia.org/api/rest_v1/page/summary"
	maxExtractChars     = 500
)

// Wikipedia looks up page summaries through the REST summary endpoint.
type Wikipedia struct {
	client
}

func NewWikipedia(opts ...Option) *Wikipedia {
	return &Wikipedia{client: newClient(defaultWikipediaURL, opts)}
}

// Summary returns the page extract for term, capped at 500 characters.
func (w *Wikipedia) Summary(ctx context.Context, term string) (extract string, err error) {
	u := w.baseURL + "/" + url.PathEscape(strings.TrimSpace(term))
	defer func() { w.logCall(ctx, "WIKIPEDIA", u, extract, err) }()

	body, err := w.get(ctx, u)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) && te.Status == http.StatusNotFound {
			return "", &ToolError{Code: CodeNotFound, Status: te.Status}
		}
		return "", err
	}

	var page struct {
		Type    string `json:"type"`
		Extract string `json:"extract"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return "", &ToolError{Code: CodeParseError, Err: err}
	}
	if page.Type == "disambiguation" {
		return "", &ToolError{Code: CodeDisambiguation}
	}

	extract = page.Extract
	if len([]rune(extract)) > maxExtractChars {
		extract = truncateRunes(extract, maxExtractChars) + "..."
	}
	return extract, nil
}
