package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/assistant"
	"github.com/archonhq/archon/internal/command"
	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store"
)

// IsolationContext carries the worktree identity into workflow execution.
type IsolationContext struct {
	BranchName string
	IsPRReview bool
	PRSha      string
	PRBranch   string
}

// ExecutionRequest is one workflow hand-off from the orchestrator.
type ExecutionRequest struct {
	ConversationID   string // platform conversation id, for messaging
	ConversationDBID string
	CodebaseID       string
	Cwd              string
	Workflow         Definition
	OriginalMessage  string
	IssueContext     string
	Commands         map[string]store.CommandSpec
	Isolation        IsolationContext
}

// Executor runs a detected workflow. It owns its own user-facing error
// messaging; returned errors are for logging only.
type Executor interface {
	Execute(ctx context.Context, adapter platform.Adapter, req ExecutionRequest) error
}

// Runner executes workflow steps sequentially through the assistant
// client, resuming the same assistant session across steps.
type Runner struct {
	client assistant.Client
	logger *logger.Logger
}

// NewRunner creates a workflow step runner.
func NewRunner(client assistant.Client, log *logger.Logger) *Runner {
	return &Runner{
		client: client,
		logger: log.WithFields(zap.String("component", "workflow_runner")),
	}
}

// Execute runs every step of the workflow in order. Step failures are
// reported to the user and stop the workflow.
func (r *Runner) Execute(ctx context.Context, adapter platform.Adapter, req ExecutionRequest) error {
	log := r.logger.WithConversationID(req.ConversationDBID).WithFields(
		zap.String("workflow", req.Workflow.Name))
	log.Info("Executing workflow", zap.Int("steps", len(req.Workflow.Steps)))

	var resumeToken string
	for i, step := range req.Workflow.Steps {
		stepName := step.Name
		if stepName == "" {
			stepName = step.Command
		}

		prompt, err := r.renderStep(req, step)
		if err != nil {
			log.Error("Workflow step setup failed", zap.String("step", stepName), zap.Error(err))
			_ = adapter.SendMessage(ctx, req.ConversationID,
				fmt.Sprintf("Workflow %s failed at step %q: %v", req.Workflow.Name, stepName, err))
			return err
		}

		_ = adapter.SendMessage(ctx, req.ConversationID,
			fmt.Sprintf("Running step %d/%d: %s", i+1, len(req.Workflow.Steps), stepName))

		output, newToken, err := r.runStep(ctx, prompt, req.Cwd, resumeToken)
		if err != nil {
			log.Error("Workflow step failed", zap.String("step", stepName), zap.Error(err))
			_ = adapter.SendMessage(ctx, req.ConversationID,
				fmt.Sprintf("Workflow %s failed at step %q. Use /reset to start over.", req.Workflow.Name, stepName))
			return err
		}
		if newToken != "" {
			resumeToken = newToken
		}
		if output != "" {
			_ = adapter.SendMessage(ctx, req.ConversationID, output)
		}
	}

	log.Info("Workflow completed")
	return nil
}

// renderStep resolves the step's command markdown, substitutes the original
// message, and wraps it for the assistant.
func (r *Runner) renderStep(req ExecutionRequest, step Step) (string, error) {
	spec, ok := req.Commands[step.Command]
	if !ok {
		return "", fmt.Errorf("unknown command %q", step.Command)
	}

	content, err := os.ReadFile(filepath.Join(req.Cwd, spec.Path))
	if err != nil {
		return "", fmt.Errorf("failed to read command file: %w", err)
	}

	rendered := command.Substitute(string(content), []string{req.OriginalMessage})
	prompt := command.Wrap(step.Command, rendered)
	if req.IssueContext != "" {
		prompt += "\n\n---\n\n" + req.IssueContext
	}
	return prompt, nil
}

// runStep drains one assistant stream, accumulating assistant text and the
// resume token.
func (r *Runner) runStep(ctx context.Context, prompt, cwd, resumeToken string) (string, string, error) {
	stream, err := r.client.SendQuery(ctx, prompt, cwd, resumeToken)
	if err != nil {
		return "", "", err
	}

	var parts []string
	var newToken string
	for {
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", newToken, err
		}
		switch chunk.Kind {
		case assistant.KindAssistant:
			parts = append(parts, chunk.Content)
		case assistant.KindResult:
			if chunk.SessionID != "" {
				newToken = chunk.SessionID
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), newToken, nil
}

// WorkflowNames returns just the names discovered in cwd. Satisfies the
// command router's lister dependency.
func (r *Registry) WorkflowNames(cwd string) ([]string, error) {
	definitions, err := r.Discover(cwd)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(definitions))
	for _, def := range definitions {
		names = append(names, def.Name)
	}
	return names, nil
}
