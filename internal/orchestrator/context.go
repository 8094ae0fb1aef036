package orchestrator

import (
	"regexp"
	"strings"

	"github.com/archonhq/archon/internal/workflow"
)

// Markers a platform adapter embeds in the message text when it forwards a
// GitHub event without structured context.
const (
	issueContextMarker = "[GitHub Issue Context]"
	prContextMarker    = "[GitHub Pull Request Context]"
)

var (
	titlePattern  = regexp.MustCompile(`(?:Issue|PR) #\d+: "([^"]+)"`)
	labelsPattern = regexp.MustCompile(`Labels: ([^\n]+)`)
)

// extractRouterContext builds the router prompt context from the explicit
// issue context when present, otherwise from markers embedded in the
// message text. Missing title or labels are tolerated silently.
func extractRouterContext(text, issueContext, platformType, workflowType, threadHistory string) workflow.RouterContext {
	source := issueContext
	if source == "" && (strings.Contains(text, issueContextMarker) || strings.Contains(text, prContextMarker)) {
		source = text
	}

	rctx := workflow.RouterContext{
		PlatformType:  platformType,
		WorkflowType:  workflowType,
		ThreadHistory: threadHistory,
	}
	if source == "" {
		return rctx
	}

	if m := titlePattern.FindStringSubmatch(source); m != nil {
		rctx.Title = m[1]
	}
	if m := labelsPattern.FindStringSubmatch(source); m != nil {
		for _, label := range strings.Split(m[1], ",") {
			if label = strings.TrimSpace(label); label != "" {
				rctx.Labels = append(rctx.Labels, label)
			}
		}
	}
	rctx.IsPullRequest = strings.Contains(source, prContextMarker)
	rctx.HasPRContext = strings.Contains(source, issueContextMarker) || strings.Contains(source, prContextMarker)
	return rctx
}
