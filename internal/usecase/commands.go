package usecase

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"satcom-gateway/internal/pipeline"
)

const minPromptLen = 2

// HelpText is the static reply to a help request.
const HelpText = `SAT-COM AI GATEWAY

AUTO FEATURES:
- Web search (automatic)
- URL reading (automatic)
- Conversation memory (24hrs)

MANUAL TOOLS:
WIKI term
NEWS
ADDRESS (needs GPS*)
WEATHER (needs GPS*)
SUNRISE/SUNSET (needs GPS*)
FULL-WEATHER (needs GPS*)
DISASTERS (needs GPS*)
NEW (fresh conversation)
HELP
SIZE num

*GPS=location enabled

FULL-WEATHER: UV, visibility, pressure, moon phase, hourly forecast, etc

USAGE: AI: your question
`

var (
	promptPrefix      = regexp.MustCompile(`^(AI|Ai|ai)[:\s]`)
	promptPrefixStrip = regexp.MustCompile(`^(AI|Ai|ai)[:\s]*`)

	helpExact = map[string]struct{}{
		"HELP":            {},
		"?":               {},
		"HELP ME":         {},
		"COMMANDS":        {},
		"LIST TOOLS":      {},
		"TOOLS":           {},
		"HOW TO USE":      {},
		"HOW TO USE YOU":  {},
		"WHAT CAN YOU DO": {},
	}
	helpPrefix = regexp.MustCompile(`^HELP\b`)

	sizePattern         = regexp.MustCompile(`(?i)\b(?:RESPONSE\s+)?SIZE\s+(\d+)\b`)
	responseSizeCommand = regexp.MustCompile(`(?i)\bRESPONSE\s+SIZE\s+\d+\b`)
	sizeCommand         = regexp.MustCompile(`(?i)\bSIZE\s+\d+\b`)
)

// extractPrompt returns the prompt carried by a message's first line, or
// false when the line lacks the command prefix or is too short after it.
func extractPrompt(body string) (string, bool) {
	first, _, _ := strings.Cut(body, "\n")
	first = strings.TrimSpace(first)
	if !promptPrefix.MatchString(first) {
		return "", false
	}
	prompt := strings.TrimSpace(promptPrefixStrip.ReplaceAllString(first, ""))
	if len([]rune(prompt)) < minPromptLen {
		return "", false
	}
	return prompt, true
}

// IsHelpRequest reports whether prompt asks for the command list.
func IsHelpRequest(prompt string) bool {
	p := strings.ToUpper(strings.TrimSpace(prompt))
	if _, ok := helpExact[p]; ok {
		return true
	}
	return helpPrefix.MatchString(p)
}

// SizeOverride returns the requested reply size, capped, and the prompt with
// the size command removed. ok is false when no positive size is given.
func SizeOverride(prompt string) (size int, cleaned string, ok bool) {
	m := sizePattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0, prompt, false
	}
	n, err := strconv.Atoi(m[1])
	if errors.Is(err, strconv.ErrRange) {
		n = pipeline.SizeCap
	} else if err != nil || n <= 0 {
		return 0, prompt, false
	}
	if n > pipeline.SizeCap {
		n = pipeline.SizeCap
	}
	cleaned = responseSizeCommand.ReplaceAllString(prompt, "")
	cleaned = sizeCommand.ReplaceAllString(cleaned, "")
	return n, strings.Join(strings.Fields(cleaned), " "), true
}
