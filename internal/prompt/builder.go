// ABOUTME: Assembles the single prompt handed to the reasoning agent
// ABOUTME: Location hint, prior conversation, current request and fixed reminders, in that order

// Package prompt builds agent prompts and loads the agent's instructions.
package prompt

import "strings"

// Reminders is appended verbatim to every prompt.
const Reminders = `IMPORTANT REMINDERS:
1. When responding to gather information, use natural conversational language, NOT bullet points or structured lists.
2. Extract all relevant information from the conversation history to understand what the user needs.
3. If you have enough information to search, use the Search tools immediately.
4. If you need more information, ask for it conversationally.
5. If the user says they're flexible with dates, DO NOT ask for specific dates. Instead, search across multiple dates in their timeframe.
6. If you see timezone information, use it to intelligently guess the user's location but ask for confirmation if needed.`

// Build composes the agent prompt. locationHint and historySummary may be
// empty, in which case their sections are left out.
func Build(locationHint, historySummary, currentQuery string) string {
	var b strings.Builder

	if locationHint != "" {
		b.WriteString("User's timezone: ")
		b.WriteString(locationHint)
		b.WriteString(". Use this to infer their likely departure location if they don't specify one. ")
	}

	if historySummary != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(historySummary)
	}

	b.WriteString("\n\nCurrent request: ")
	b.WriteString(currentQuery)
	b.WriteString("\n\n")
	b.WriteString(Reminders)

	return b.String()
}
