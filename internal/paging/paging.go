// Package paging splits reply text into numbered satellite-sized segments.
package paging

import (
	"fmt"
	"strings"
	"unicode"

	"satcom-gateway/internal/domain"
)

const (
	// SingleMessageMax is the longest text delivered as one unnumbered message.
	SingleMessageMax = 155
	// ChunkPayload leaves room for a "10/10 " prefix inside SingleMessageMax.
	ChunkPayload = 149
	// MaxPages caps the number of segments per reply.
	MaxPages = 10

	truncationMarker = " [...]"
)

// Paginate turns text into delivery segments. Text that fits in one message
// is returned as a single segment without a page prefix. Otherwise it is split
// into chunks of at most chunkLimit characters, capped at maxPages, and each
// payload carries an "i/n " prefix.
func Paginate(text string, chunkLimit, maxPages int) []domain.DeliverySegment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkLimit <= 0 {
		chunkLimit = ChunkPayload
	}
	if maxPages <= 0 {
		maxPages = MaxPages
	}
	if runeLen(text) <= SingleMessageMax {
		return []domain.DeliverySegment{{Index: 1, Total: 1, Payload: text}}
	}

	chunks := Split(text, chunkLimit)
	if len(chunks) > maxPages {
		chunks = chunks[:maxPages]
		last := len(chunks) - 1
		if runeLen(chunks[last]) < chunkLimit-5 {
			chunks[last] += truncationMarker
		}
	}

	total := len(chunks)
	segments := make([]domain.DeliverySegment, total)
	for i, c := range chunks {
		segments[i] = domain.DeliverySegment{
			Index:   i + 1,
			Total:   total,
			Payload: fmt.Sprintf("%d/%d %s", i+1, total, c),
		}
	}
	return segments
}

// Split greedily cuts text into trimmed chunks of at most limit characters,
// preferring sentence ends, then clause separators, then spaces.
func Split(text string, limit int) []string {
	var chunks []string
	remaining := []rune(strings.TrimSpace(text))
	for len(remaining) > limit {
		at := splitPoint(remaining, limit)
		chunks = append(chunks, strings.TrimSpace(string(remaining[:at])))
		remaining = []rune(strings.TrimSpace(string(remaining[at:])))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

// splitPoint picks where to cut r, which is longer than limit. Any boundary
// other than a hard cut must lie past half of the limit.
func splitPoint(r []rune, limit int) int {
	half := limit / 2

	for i := limit - 1; i >= half; i-- {
		if isSentenceEnd(r[i]) && (i+1 == len(r) || unicode.IsSpace(r[i+1])) {
			return i + 1
		}
	}

	for i := limit - 2; i > half; i-- {
		if (r[i] == ',' || r[i] == ';' || r[i] == ':') && r[i+1] == ' ' {
			return i + 1
		}
	}

	for i := limit - 1; i > half; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}

	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// SmartTruncate shortens text to at most limit characters. It keeps whole
// sentences when that retains more than 70% of the limit, otherwise cuts at a
// word boundary and appends "...", otherwise hard-cuts with "...".
func SmartTruncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	threshold := limit * 7 / 10

	window := r[:limit]
	for i := len(window) - 1; i >= threshold; i-- {
		if isSentenceEnd(window[i]) {
			return string(window[:i+1])
		}
	}

	// The ellipsis must fit, so only look for a space where it still does.
	spaceWindow := r[:limit-3]
	for i := len(spaceWindow) - 1; i > threshold; i-- {
		if spaceWindow[i] == ' ' {
			return string(spaceWindow[:i]) + "..."
		}
	}

	return string(r[:limit-3]) + "..."
}

func runeLen(s string) int {
	return len([]rune(s))
}
