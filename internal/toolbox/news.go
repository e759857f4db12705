package toolbox

import (
	"context"
	"encoding/xml"
	"strings"
)

const (
	defaultNewsURL  = "https://news.google.com/rss"
	maxHeadlines    = 5
	maxHeadlineLen  = 80
	headlineBullet  = "• "
	sourceSeparator = " - "
)

type rssFeed struct {
	Channel *struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

// News reads top headlines from the Google News RSS feed.
type News struct {
	client
}

func NewNews(opts ...Option) *News {
	return &News{client: newClient(defaultNewsURL, opts)}
}

// Headlines returns up to five bulleted headlines, one per line.
func (n *News) Headlines(ctx context.Context) (data string, err error) {
	defer func() { n.logCall(ctx, "NEWS", n.baseURL, data, err) }()

	body, err := n.get(ctx, n.baseURL)
	if err != nil {
		return "", err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return "", &ToolError{Code: CodeParseError, Err: err}
	}
	if feed.Channel == nil {
		return "", &ToolError{Code: CodeInvalidRSS}
	}

	var lines []string
	for i, item := range feed.Channel.Items {
		if i == maxHeadlines {
			break
		}
		lines = append(lines, headlineBullet+cleanHeadline(item.Title))
	}
	if len(lines) == 0 {
		return "", &ToolError{Code: CodeNoHeadlines}
	}
	return strings.Join(lines, "\n"), nil
}

// cleanHeadline drops the trailing " - Source" Google News appends and caps
// the length.
func cleanHeadline(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.LastIndex(title, sourceSeparator); i > 0 {
		title = title[:i]
	}
	if len([]rune(title)) > maxHeadlineLen {
		title = truncateRunes(title, maxHeadlineLen-3) + "..."
	}
	return title
}
