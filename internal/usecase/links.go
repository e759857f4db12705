package usecase

import "regexp"

const unknownLogID = "UNKNOWN"

var (
	replyLinkPattern = regexp.MustCompile(`(?i)(https://(?:[a-z0-9.-]*explore\.garmin\.com/textmessage/txtmsg\?[^"\s]+|inreachlink\.com/[^"\s]+))`)
	recipientPattern = regexp.MustCompile(`<?([^<>\s]+@[^<>\s]+)>?`)
	logIDPattern     = regexp.MustCompile(`extId=([a-zA-Z0-9\-]+)`)
)

// replyLink returns the first device reply link in body.
func replyLink(body string) (string, bool) {
	m := replyLinkPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// recipientAddress pulls the bare address out of a To value such as
// "Gateway <gw@example.com>".
func recipientAddress(to string) string {
	m := recipientPattern.FindStringSubmatch(to)
	if m == nil {
		return ""
	}
	return m[1]
}

// logID is a short, log-friendly id taken from the link's extId.
func logID(link string) string {
	m := logIDPattern.FindStringSubmatch(link)
	if m == nil {
		return unknownLogID
	}
	id := m[1]
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
