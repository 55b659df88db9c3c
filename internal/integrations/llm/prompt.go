package llm

import (
	"fmt"
	"strings"
)

// Candidate is one label the model may answer with. Description is optional
// context shown next to the name.
type Candidate struct {
	Name        string
	Description string
}

// Request describes one classification question: which of Candidates fits
// the ticket text. RoleNoun names the kind of label ("project", "category").
type Request struct {
	Title       string
	Description string
	Candidates  []Candidate
	RoleNoun    string
}

// BuildPrompt renders the single-shot classification prompt. Every
// candidate name is listed verbatim so the answer can be matched exactly.
func BuildPrompt(req Request) string {
	role := strings.TrimSpace(req.RoleNoun)
	if role == "" {
		role = "category"
	}

	var candidateLines strings.Builder
	for _, c := range req.Candidates {
		desc := strings.TrimSpace(c.Description)
		if desc != "" {
			candidateLines.WriteString(fmt.Sprintf("- %s: %s\n", c.Name, desc))
		} else {
			candidateLines.WriteString(fmt.Sprintf("- %s\n", c.Name))
		}
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "(no description)"
	}

	return fmt.Sprintf(`I will give you an issue title and description. Answer with exactly one %[1]s name from the list below.

%[2]s:
%[3]s
Title: %[4]s
Description: %[5]s

Read the content carefully and understand it.
Your answer must be only one of the %[1]s names above, written exactly as listed. Do not add any explanation.`,
		role, capitalize(plural(role)), candidateLines.String(), strings.TrimSpace(req.Title), description)
}

func plural(noun string) string {
	switch {
	case strings.HasSuffix(noun, "y") && !strings.HasSuffix(noun, "ey"):
		return strings.TrimSuffix(noun, "y") + "ies"
	case strings.HasSuffix(noun, "s"):
		return noun + "es"
	default:
		return noun + "s"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
