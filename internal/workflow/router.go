package workflow

import (
	"fmt"
	"strings"
)

// RouterContext carries the structured context surrounding a user message,
// extracted from issue text or supplied by the platform adapter.
type RouterContext struct {
	PlatformType  string
	Title         string
	Labels        []string
	IsPullRequest bool
	HasPRContext  bool // whether IsPullRequest carries information
	WorkflowType  string
	ThreadHistory string
}

// InvocationDirective is the sentinel the assistant emits to hand off to a
// workflow.
const InvocationDirective = "/invoke-workflow"

// BuildRouterPrompt composes the prompt that lets the assistant either
// answer conversationally or name exactly one workflow.
func BuildRouterPrompt(userMessage string, definitions []Definition, rctx RouterContext) string {
	var b strings.Builder

	b.WriteString("You are assisting with a software repository. The following workflows are available:\n\n")
	for _, def := range definitions {
		desc := def.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "- %s — %s\n", def.Name, desc)
	}

	b.WriteString("\nDecide how to handle the user's request:\n")
	b.WriteString("- If one workflow clearly matches, reply with exactly one line of the form `" +
		InvocationDirective + " <name>` followed by a short human-readable explanation of what you will do.\n")
	b.WriteString("- Otherwise, answer conversationally and do not emit the directive.\n")

	b.WriteString("\n## Context\n")
	fmt.Fprintf(&b, "Platform: %s\n", rctx.PlatformType)
	if rctx.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", rctx.Title)
	}
	if len(rctx.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(rctx.Labels, ", "))
	}
	if rctx.HasPRContext {
		fmt.Fprintf(&b, "Pull request: %t\n", rctx.IsPullRequest)
	}
	if rctx.WorkflowType != "" {
		fmt.Fprintf(&b, "Workflow type: %s\n", rctx.WorkflowType)
	}
	if rctx.ThreadHistory != "" {
		b.WriteString("\n## Thread History\n\n")
		b.WriteString(rctx.ThreadHistory)
		b.WriteString("\n")
	}

	b.WriteString("\n## User Request\n\n")
	b.WriteString(userMessage)

	return b.String()
}
