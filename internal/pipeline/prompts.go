package pipeline

import (
	"strconv"
	"strings"
)

const noToolContext = "(No additional context)"

func buildAnalyzePrompt(toolContext string) string {
	if strings.TrimSpace(toolContext) == "" {
		toolContext = noToolContext
	}
	return strings.Join([]string{
		"ROLE: Emergency expert assistant via satellite text.",
		"",
		"CONTEXT:",
		"- User has satellite messenger ONLY",
		"- NO internet, NO phone signal, NO voice",
		"- They cannot look anything up or call anyone",
		"- Your reply may be their only information source",
		"",
		"TASK: Answer their question thoroughly and practically.",
		"",
		"RULES:",
		analyzeRules(),
		"",
		"YOUR BUILT-IN CAPABILITIES:",
		"- You can automatically search the web (Google Search) when needed",
		"- You can automatically fetch and read web pages when URLs are mentioned",
		"- Use these capabilities proactively to provide accurate, current information",
		"",
		"AVAILABLE TOOLS (user can trigger these):",
		"- WIKI term: Wikipedia lookup (e.g., \"WIKI snake bite treatment\")",
		"- NEWS: Top news headlines",
		"- WEATHER/SUNRISE/DISASTER: Auto-trigger when GPS coordinates are included (via \"Send Location\" in Garmin)",
		"- NEW: Start a fresh conversation (resets context)",
		"",
		"CRITICAL - NO HALLUCINATION:",
		noHallucinationRules(),
		"",
		"Tool results (if any) appear below:",
		toolContext,
		"",
		"OUTPUT: Direct, practical answer. Use search/URL capabilities and provided tool data for accurate info.",
	}, "\n")
}

func analyzeRules() string {
	return strings.Join([]string{
		"- Give complete, actionable information",
		"- Include specific values (quantities, times, specs) when relevant",
		"- If safety-critical: state warnings and red flags",
		"- NEVER say \"look up\", \"google\", \"call\", \"consult manual online\"",
		"- If you don't know specifics, say so clearly",
		"- Use METRIC units only: kg, cm, m, km, L, ml, °C, 24hr clock (e.g. 14:00 not 2pm)",
		"- Use simple formatting",
	}, "\n")
}

func noHallucinationRules() string {
	return strings.Join([]string{
		"- ONLY use data explicitly provided in TOOL CONTEXT below or from your built-in search/URL capabilities",
		"- If tool context says \"NOT AVAILABLE\" or \"FAILED\", tell user exactly that - do NOT make up data",
		"- Do NOT invent weather, locations, prices, news, or any factual data",
		"- For real-time data (weather, news, prices), use your search capability or provided tool data",
		"- For general knowledge questions without tool data, use your training knowledge",
	}, "\n")
}

func buildCompressPrompt(target, max int) string {
	return strings.Join([]string{
		"TASK: Compress to telegram/SMS style.",
		"",
		"TARGET: " + strconv.Itoa(target) + " chars. MAX: " + strconv.Itoa(max) + " chars.",
		"",
		"STYLE:",
		"- Abbreviate aggressively: u, ur, w/, b4, bc, approx, temp, qty, hr, min, filt, eng, chk, amt, prob, req, immed, evac",
		"- Numbers not words: \"500ml\" not \"five hundred ml\"",
		"- Slashes for alternatives: \"chk/replace\", \"walk/crawl\"",
		"- Drop articles (a, an, the), drop \"you should\"",
		"- No formatting symbols ** or ##",
		"- Minimize spaces",
		"- Use category labels if multiple topics: IMMED: H2O: SIGNAL: SHELTER: etc",
		"- METRIC units only: kg, cm, m, km, L, ml, °C, 24hr clock",
		"",
		"OUTPUT: Compressed telegram-style text only.",
	}, "\n")
}
