// Package stream classifies raw agent stream fragments into semantic events.
// Classification is pure and order-independent; grouping into sections is the
// transcript package's job.
package stream

import "strings"

// Kind is the semantic category of a classified log line.
type Kind string

const (
	KindThought Kind = "thought"
	KindTool    Kind = "tool"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Marker glyphs emitted by the agent backend, one per line.
const (
	MarkerPrompt     = "🧠"
	MarkerReasoning  = "🧩"
	MarkerProcessing = "⚙️"
	MarkerOutput     = "💡"
	MarkerSuccess    = "✅"
	MarkerFailure    = "❌"
	MarkerWarning    = "⚠"

	outputStartToken = MarkerOutput + " OUTPUT_START"
	outputEndToken   = MarkerOutput + " OUTPUT_END"
)

// Sentinel is the terminal frame on the duplex transport. The SSE transport
// signals the same thing with a named "end" event.
const Sentinel = "DONE"

// Event is one classified log line.
type Event struct {
	Kind Kind
	// Text is the trimmed line, marker included. For output content lines the
	// marker prefix is stripped so the output accumulates verbatim.
	Text string

	// NewThought marks the explicit reasoning glyph, which starts a fresh
	// thought section even when the previous section is also a thought.
	NewThought bool

	// Output section delimiters and content lines.
	OutputStart bool
	OutputEnd   bool
	Output      bool
}

// Rule maps a line predicate to a category. Rules are evaluated in order;
// the first match wins.
type Rule struct {
	Name  string
	Match func(line string) bool
	Kind  Kind
}

// Rules is the classification precedence: error markers beat tool markers,
// which beat thought markers. Anything unmatched is info.
var Rules = []Rule{
	{Name: "failure", Match: hasPrefix(MarkerFailure), Kind: KindError},
	{Name: "warning", Match: hasPrefix(MarkerWarning), Kind: KindError},
	{Name: "tool", Match: hasPrefix(MarkerProcessing), Kind: KindTool},
	{Name: "reasoning", Match: hasPrefix(MarkerReasoning), Kind: KindThought},
	{Name: "prompt", Match: hasPrefix(MarkerPrompt), Kind: KindThought},
	{Name: "success", Match: hasPrefix(MarkerSuccess), Kind: KindInfo},
}

func hasPrefix(marker string) func(string) bool {
	return func(line string) bool {
		return strings.HasPrefix(line, marker)
	}
}

// IsSentinel reports whether the line is the duplex terminal sentinel.
func IsSentinel(line string) bool {
	return strings.TrimSpace(line) == Sentinel
}

// Classify turns one raw line into an Event. It returns false for lines that
// produce no event (empty or whitespace-only after trimming). Control frames
// must be routed through ParseControl before calling Classify; a control-shaped
// line that reaches Classify is treated as plain info text.
func Classify(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, false
	}

	// Output block delimiters and content lines are a special case: the
	// section builder accumulates them verbatim between the delimiters.
	if strings.HasPrefix(trimmed, outputStartToken) {
		return Event{Kind: KindInfo, Text: trimmed, OutputStart: true}, true
	}
	if strings.HasPrefix(trimmed, outputEndToken) {
		return Event{Kind: KindInfo, Text: trimmed, OutputEnd: true}, true
	}
	if strings.HasPrefix(trimmed, MarkerOutput) {
		text := strings.TrimPrefix(trimmed, MarkerOutput)
		text = strings.TrimPrefix(text, " ")
		return Event{Kind: KindInfo, Text: text, Output: true}, true
	}

	for _, rule := range Rules {
		if rule.Match(trimmed) {
			ev := Event{Kind: rule.Kind, Text: trimmed}
			if rule.Name == "reasoning" {
				ev.NewThought = true
			}
			return ev, true
		}
	}

	return Event{Kind: KindInfo, Text: trimmed}, true
}
