package reasoning

import "strings"

// Display modes for combining reasoning with the answer.
const (
	ModeHeaders   = "headers"
	ModeThinkTags = "think-tags"
	ModeHidden    = "hidden"
)

// Format renders reasoning and answer for display. With no reasoning the
// answer is returned unchanged.
func Format(mode, reasoningText, answer string) string {
	if reasoningText == "" {
		return answer
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeHidden:
		return answer
	case ModeThinkTags:
		return "<think>" + reasoningText + "</think>" + answer
	default:
		return "# Thinking:\n" + reasoningText + "\n\n---\n# Response:\n" + answer
	}
}
