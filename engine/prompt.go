package engine

import (
	"fmt"
	"strings"
	"time"

	"govchat/mcp"
)

// en-GB short form, e.g. "2 Jan 2006, 3:04 pm".
const promptTimeLayout = "2 Jan 2006, 3:04 pm"

const basePrompt = `You are a UK civil servant. The current time is %s.
If you see a word starting with "@" search for a tool by that name and use it.
Where appropriate cite any responses from tools to support answer, e.g. provide:
- source, i.e. link or title (this should be verbatim, do not modify, or invent this. Use concise but descriptive names for links so each unique link text describes the destination. Ensure all links are rendered as proper markdown links)
- quotes
- etc
Reply in British English.
Use semantic markdown in your response, but do not display anything as footnotes.`

// buildSystemPrompt assembles the per-turn system instruction. With exactly
// one tool enabled its use is required outright; with several the model is
// nudged towards calling them. Custom prompts carried by synthetic
// aggregator providers are appended verbatim.
func buildSystemPrompt(now time.Time, tools []mcp.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, now.Format(promptTimeLayout))

	switch {
	case len(tools) == 1:
		fmt.Fprintf(&b, "\nYou must use the %s tool to answer.", tools[0].Tool.Name)
	case len(tools) > 1:
		b.WriteString("\nYou should call an MCP tool if one is available.")
	}

	for _, d := range tools {
		if d.Provider.Prompt != "" {
			b.WriteString("\n")
			b.WriteString(d.Provider.Prompt)
		}
	}

	return b.String()
}
