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

// cliMessage mirrors the Claude Code CLI stream-json stdout protocol. The
// message type determines which fields are populated.
type cliMessage struct {
	Type string `json:"type"`

	// For system and result messages
	SessionID string `json:"session_id,omitempty"`
	Subtype   string `json:"subtype,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// For assistant messages
	Message *assistantMessage `json:"message,omitempty"`

	// Result can be either a string (error message) or an object
	Result json.RawMessage `json:"result,omitempty"`
}

type assistantMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// For tool_use blocks
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

func (m *cliMessage) resultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return ""
	}
	return s
}

// ClaudeClient drives the Claude Code CLI in non-interactive stream-json mode.
type ClaudeClient struct {
	binary string
	logger *logger.Logger
}

// NewClaudeClient creates a client for the given claude binary.
func NewClaudeClient(binary string, log *logger.Logger) *ClaudeClient {
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeClient{
		binary: binary,
		logger: log.WithFields(zap.String("component", "claude_client")),
	}
}

// SendQuery spawns the CLI and returns a lazy stream of chunks parsed from
// its stream-json output.
func (c *ClaudeClient) SendQuery(ctx context.Context, prompt, cwd, resumeToken string) (*Stream, error) {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}

	c.logger.Debug("Started claude query",
		zap.String("cwd", cwd),
		zap.Bool("resume", resumeToken != ""))

	stream := newStream(16)
	go func() {
		scanner := bufio.NewScanner(stdout)
		// Assistant messages can carry large tool outputs
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 10*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var msg cliMessage
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				c.logger.Warn("Skipping unparseable CLI line", zap.Error(err))
				continue
			}

			for _, chunk := range chunksFromCLIMessage(&msg) {
				stream.emit(chunk)
			}

			if msg.Type == "result" && msg.IsError {
				_ = cmd.Wait()
				stream.fail(fmt.Errorf("claude query failed: %s", msg.resultString()))
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			stream.fail(fmt.Errorf("claude exited: %w (stderr: %s)", err, strings.TrimSpace(stderr.String())))
			return
		}
		if err := scanner.Err(); err != nil {
			stream.fail(fmt.Errorf("failed to read claude output: %w", err))
			return
		}
		stream.finish()
	}()

	return stream, nil
}

// chunksFromCLIMessage maps one CLI message onto zero or more stream chunks.
func chunksFromCLIMessage(msg *cliMessage) []Chunk {
	switch msg.Type {
	case "assistant":
		if msg.Message == nil {
			return nil
		}
		var chunks []Chunk
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					chunks = append(chunks, Chunk{Kind: KindAssistant, Content: block.Text})
				}
			case "thinking":
				if block.Thinking != "" {
					chunks = append(chunks, Chunk{Kind: KindThinking, Content: block.Thinking})
				}
			case "tool_use":
				chunks = append(chunks, Chunk{Kind: KindTool, ToolName: block.Name, ToolInput: block.Input})
			}
		}
		return chunks
	case "result":
		if msg.IsError {
			return nil
		}
		return []Chunk{{Kind: KindResult, SessionID: msg.SessionID}}
	default:
		// system and control messages carry no user-facing content
		return nil
	}
}
