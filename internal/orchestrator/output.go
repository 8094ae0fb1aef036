package orchestrator

import (
	"fmt"
	"strings"

	"github.com/archonhq/archon/internal/assistant"
)

// chunkSeparator joins accumulated assistant chunks in batch mode.
const chunkSeparator = "\n\n---\n\n"

// toolIndicatorEmoji are the leading runes of tool and thinking blocks the
// assistant may echo into its text. Batch mode drops such blocks.
var toolIndicatorEmoji = []string{
	"\U0001F527", // wrench
	"\U0001F4AD", // thought balloon
	"\U0001F4DD", // memo
	"✏️",     // pencil
	"\U0001F5D1️", // wastebasket
	"\U0001F4C2", // open folder
	"\U0001F50D", // magnifying glass
}

// toolInputKeys is the preference order for the one-line input summary.
var toolInputKeys = []string{"command", "file_path", "path", "pattern", "query", "url", "prompt"}

const toolSummaryLimit = 100

// formatToolCall renders a tool chunk as an emoji-prefixed uppercased
// header with a bounded one-line input summary.
func formatToolCall(chunk *assistant.Chunk) string {
	header := "\U0001F527 " + strings.ToUpper(chunk.ToolName)
	summary := summarizeToolInput(chunk.ToolInput)
	if summary == "" {
		return header
	}
	return header + "\n" + summary
}

func summarizeToolInput(input map[string]interface{}) string {
	if len(input) == 0 {
		return ""
	}
	var value string
	for _, key := range toolInputKeys {
		if v, ok := input[key]; ok {
			value = fmt.Sprintf("%v", v)
			break
		}
	}
	if value == "" {
		for _, v := range input {
			value = fmt.Sprintf("%v", v)
			break
		}
	}
	value = strings.SplitN(value, "\n", 2)[0]
	if len(value) > toolSummaryLimit {
		value = value[:toolSummaryLimit-3] + "..."
	}
	return value
}

// filterBatchOutput joins the accumulated assistant chunks and drops every
// blank-line-separated block that opens with a tool or thinking indicator.
// If filtering removes everything, the unfiltered text is returned so the
// user never gets an empty reply.
func filterBatchOutput(parts []string) string {
	joined := strings.TrimSpace(strings.Join(parts, chunkSeparator))
	if joined == "" {
		return ""
	}

	blocks := strings.Split(joined, "\n\n")
	kept := blocks[:0:0]
	for _, block := range blocks {
		if isToolIndicatorBlock(block) {
			continue
		}
		kept = append(kept, block)
	}

	filtered := strings.TrimSpace(strings.Join(kept, "\n\n"))
	if filtered == "" {
		return joined
	}
	return filtered
}

func isToolIndicatorBlock(block string) bool {
	trimmed := strings.TrimSpace(block)
	for _, emoji := range toolIndicatorEmoji {
		if strings.HasPrefix(trimmed, emoji) {
			return true
		}
	}
	return false
}
