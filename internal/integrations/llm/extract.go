package llm

import (
	"regexp"
	"strings"
)

var (
	reasoningBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reasoningTagRe   = regexp.MustCompile(`(?i)</?think>`)
)

// ExtractAnswer reduces raw model output to a single candidate label:
// reasoning blocks are dropped, then the last non-blank line is taken.
// Models sometimes restate the instructions or think aloud before the
// label; the label itself comes last.
func ExtractAnswer(raw string) string {
	label := lastNonBlankLine(reasoningTagRe.ReplaceAllString(reasoningBlockRe.ReplaceAllString(raw, "\n"), "\n"))
	if label == "" {
		// Nothing outside the reasoning block; fall back to its content
		// with only the markers removed.
		label = lastNonBlankLine(reasoningTagRe.ReplaceAllString(raw, "\n"))
	}
	return cleanLabel(label)
}

func lastNonBlankLine(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	last := ""
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	return last
}

// cleanLabel strips list markers and wrapping emphasis or quotes a model
// may echo from the prompt's bullet list.
func cleanLabel(label string) string {
	label = strings.TrimSpace(label)
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(label, prefix) {
			label = strings.TrimSpace(strings.TrimPrefix(label, prefix))
			break
		}
	}
	for _, wrap := range []string{"**", "__", "`", `"`, "'"} {
		if len(label) > 2*len(wrap) && strings.HasPrefix(label, wrap) && strings.HasSuffix(label, wrap) {
			label = strings.TrimSpace(label[len(wrap) : len(label)-len(wrap)])
		}
	}
	return label
}
