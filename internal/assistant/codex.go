package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
)

// codexEvent mirrors one JSON line of `codex exec --json` output.
type codexEvent struct {
	Type     string                 `json:"type"`
	ThreadID string                 `json:"thread_id,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// CodexClient drives the Codex CLI in non-interactive JSON mode. All
// failures are wrapped with the "Codex query failed:" prefix so the error
// classifier can attribute them.
type CodexClient struct {
	binary string
	logger *logger.Logger
}

// NewCodexClient creates a client for the given codex binary.
func NewCodexClient(binary string, log *logger.Logger) *CodexClient {
	if binary == "" {
		binary = "codex"
	}
	return &CodexClient{
		binary: binary,
		logger: log.WithFields(zap.String("component", "codex_client")),
	}
}

// SendQuery spawns the CLI and returns a lazy stream of chunks parsed from
// its JSON event output.
func (c *CodexClient) SendQuery(ctx context.Context, prompt, cwd, resumeToken string) (*Stream, error) {
	args := []string{"exec", "--json"}
	if resumeToken != "" {
		args = append(args, "resume", resumeToken)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Codex query failed: %v", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Codex query failed: %v", err)
	}

	c.logger.Debug("Started codex query",
		zap.String("cwd", cwd),
		zap.Bool("resume", resumeToken != ""))

	stream := newStream(16)
	go func() {
		var threadID string

		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 10*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var event codexEvent
			if err := json.Unmarshal([]byte(line), &event); err != nil {
				c.logger.Warn("Skipping unparseable codex line", zap.Error(err))
				continue
			}
			if event.ThreadID != "" {
				threadID = event.ThreadID
			}

			switch event.Type {
			case "agent_message":
				if event.Text != "" {
					stream.emit(Chunk{Kind: KindAssistant, Content: event.Text})
				}
			case "agent_reasoning":
				if event.Text != "" {
					stream.emit(Chunk{Kind: KindThinking, Content: event.Text})
				}
			case "tool_call":
				stream.emit(Chunk{Kind: KindTool, ToolName: event.Name, ToolInput: event.Input})
			case "error":
				_ = cmd.Wait()
				stream.fail(fmt.Errorf("Codex query failed: %s", event.Message))
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			stream.fail(fmt.Errorf("Codex query failed: %s", detail))
			return
		}
		if err := scanner.Err(); err != nil {
			stream.fail(fmt.Errorf("Codex query failed: %v", err))
			return
		}

		stream.emit(Chunk{Kind: KindResult, SessionID: threadID})
		stream.finish()
	}()

	return stream, nil
}
