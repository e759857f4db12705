package pipeline

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdown = goldmark.New()

	headingMarker = regexp.MustCompile(`#{1,6}\s`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	spaceRuns     = regexp.MustCompile(`\s{2,}`)
)

// StripFormatting removes emphasis, heading and code markup from model
// output and collapses whitespace runs to a single space. Everything else,
// including quote markers, list markers and rules, is kept as written.
func StripFormatting(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	out := dropMarkup([]byte(s))
	out = strings.ReplaceAll(out, "*", "")
	out = headingMarker.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "`", "")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	return spaceRuns.ReplaceAllString(out, " ")
}

// dropMarkup deletes the source bytes goldmark identifies as emphasis
// delimiters and fence info strings. Underscores inside words are not
// delimiters and survive.
func dropMarkup(src []byte) string {
	drop := make([]bool, len(src))
	doc := markdown.Parser().Parse(text.NewReader(src))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Emphasis:
			lo, hi, ok := childSpan(node)
			if !ok {
				break
			}
			start, end := lo-node.Level, hi+node.Level
			if start < 0 || end > len(src) || !delimiters(src[start:lo]) || !delimiters(src[hi:end]) {
				break
			}
			mark(drop, start, lo)
			mark(drop, hi, end)
		case *ast.FencedCodeBlock:
			if node.Info != nil {
				mark(drop, node.Info.Segment.Start, node.Info.Segment.Stop)
			}
		}
		return ast.WalkContinue, nil
	})

	var b strings.Builder
	b.Grow(len(src))
	for i, c := range src {
		if !drop[i] {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// span is the source range a node covers, delimiters of nested emphasis
// included.
func span(n ast.Node) (int, int, bool) {
	switch node := n.(type) {
	case *ast.Text:
		return node.Segment.Start, node.Segment.Stop, true
	case *ast.Emphasis:
		lo, hi, ok := childSpan(node)
		return lo - node.Level, hi + node.Level, ok
	}
	return childSpan(n)
}

func childSpan(n ast.Node) (int, int, bool) {
	lo, hi, found := 0, 0, false
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		l, h, ok := span(c)
		if !ok {
			continue
		}
		if !found {
			lo = l
		}
		hi, found = h, true
	}
	return lo, hi, found
}

func delimiters(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != '*' && c != '_' {
			return false
		}
	}
	return true
}

func mark(drop []bool, lo, hi int) {
	for i := max(lo, 0); i < hi && i < len(drop); i++ {
		drop[i] = true
	}
}
