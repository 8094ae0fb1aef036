package workflow

import (
	"regexp"
	"strings"
)

// invocationPattern matches the workflow invocation sentinel at the start
// of the text or of a line.
var invocationPattern = regexp.MustCompile(`(?:^|\n)/invoke-workflow\s+(\S+)`)

// Invocation is a detected workflow hand-off.
type Invocation struct {
	Workflow Definition
	// Preamble is the human-readable text surrounding the directive:
	// everything before it plus everything after it, both trimmed, joined
	// when both are nonempty.
	Preamble string
}

// DetectInvocation scans the assistant's combined text for the first
// directive naming a known workflow. Directives naming unknown workflows
// are ignored and treated as conversational text.
func DetectInvocation(text string, definitions []Definition) (*Invocation, bool) {
	matches := invocationPattern.FindAllStringSubmatchIndex(text, -1)
	for _, match := range matches {
		token := text[match[2]:match[3]]
		def := Find(definitions, token)
		if def == nil {
			continue
		}

		before := strings.TrimSpace(text[:match[0]])
		// The directive consumes the rest of its line; the preamble resumes
		// at the following line.
		after := text[match[3]:]
		if idx := strings.Index(after, "\n"); idx >= 0 {
			after = after[idx+1:]
		} else {
			after = ""
		}
		after = strings.TrimSpace(after)

		var preamble string
		switch {
		case before != "" && after != "":
			preamble = before + "\n\n" + after
		case before != "":
			preamble = before
		default:
			preamble = after
		}

		return &Invocation{Workflow: *def, Preamble: preamble}, true
	}
	return nil, false
}
