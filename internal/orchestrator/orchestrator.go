// Package orchestrator implements end-to-end dispatch for one inbound
// message: conversation loading, command routing, workflow discovery and
// routing, isolation, session selection, and response streaming.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/assistant"
	"github.com/archonhq/archon/internal/command"
	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/events"
	"github.com/archonhq/archon/internal/events/bus"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/isolation"
	"github.com/archonhq/archon/internal/lock"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store"
	"github.com/archonhq/archon/internal/workflow"
)

const noCodebaseMessage = "No codebase configured. Use /clone for a new repo or /repos to list your current repos you can switch to."

// Options carry the optional context a platform adapter can attach to an
// inbound message.
type Options struct {
	IssueContext         string
	ThreadContext        string
	ParentConversationID string
	Hints                *isolation.Hints
}

// ArtifactSyncer copies orchestration metadata into a worktree when stale.
type ArtifactSyncer interface {
	Sync(worktreePath string) bool
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store            store.Store
	Lock             *lock.ConversationLock
	Commands         *command.Router
	Registry         *workflow.Registry
	Executor         workflow.Executor
	Resolver         *isolation.Resolver
	Git              git.Service
	Artifacts        ArtifactSyncer
	Clients          map[string]assistant.Client
	DefaultAssistant string
	Bus              bus.EventBus
}

// Orchestrator handles inbound messages end to end.
type Orchestrator struct {
	store            store.Store
	lock             *lock.ConversationLock
	commands         *command.Router
	registry         *workflow.Registry
	executor         workflow.Executor
	resolver         *isolation.Resolver
	git              git.Service
	artifacts        ArtifactSyncer
	clients          map[string]assistant.Client
	defaultAssistant string
	bus              bus.EventBus
	logger           *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:            cfg.Store,
		lock:             cfg.Lock,
		commands:         cfg.Commands,
		registry:         cfg.Registry,
		executor:         cfg.Executor,
		resolver:         cfg.Resolver,
		git:              cfg.Git,
		artifacts:        cfg.Artifacts,
		clients:          cfg.Clients,
		defaultAssistant: cfg.DefaultAssistant,
		bus:              cfg.Bus,
		logger:           log.WithFields(zap.String("component", "orchestrator")),
	}
}

// HandleMessage submits one inbound message for processing and returns
// immediately. Messages for the same conversation are handled in FIFO
// order; errors are classified into a single user-facing message.
func (o *Orchestrator) HandleMessage(adapter platform.Adapter, conversationID, text string, opts Options) {
	key := adapter.PlatformType() + ":" + conversationID
	o.publish(events.SubjectMessageReceived, map[string]interface{}{
		"platform":        adapter.PlatformType(),
		"conversation_id": conversationID,
	})

	o.lock.Acquire(key, func(ctx context.Context) error {
		if err := o.process(ctx, adapter, conversationID, text, opts); err != nil {
			o.send(ctx, adapter, conversationID, ClassifyError(err))
			o.publish(events.SubjectMessageFailed, map[string]interface{}{
				"platform":        adapter.PlatformType(),
				"conversation_id": conversationID,
				"error":           SanitizeCredentials(err.Error()),
			})
			return err
		}
		o.publish(events.SubjectMessageCompleted, map[string]interface{}{
			"platform":        adapter.PlatformType(),
			"conversation_id": conversationID,
		})
		return nil
	})
}

func (o *Orchestrator) process(ctx context.Context, adapter platform.Adapter, conversationID, text string, opts Options) error {
	conv, err := o.loadConversation(ctx, adapter, conversationID, opts.ParentConversationID)
	if err != nil {
		return err
	}
	log := o.logger.WithConversationID(conv.ID).WithPlatform(adapter.PlatformType())

	// Deterministic slash commands never reach the assistant.
	isSlash := strings.HasPrefix(text, "/")
	slashName, slashRest := "", ""
	if isSlash {
		slashName, slashRest = splitSlash(text)
		if command.IsDeterministic(slashName) {
			result := o.commands.Handle(ctx, conv, text)
			if result.Message != "" {
				o.send(ctx, adapter, conversationID, result.Message)
			}
			o.recordLastCommand(ctx, conv.ID, slashName)
			return nil
		}
	}

	if conv.CodebaseID == nil {
		// An unknown slash command is answered as such even before any
		// codebase is configured.
		if isSlash && slashName != "command-invoke" {
			prompt, _, err := o.buildTemplateCommandPrompt(ctx, adapter, conversationID, slashName, slashRest, opts.IssueContext)
			if err != nil || prompt == "" {
				return err
			}
		}
		o.send(ctx, adapter, conversationID, noCodebaseMessage)
		return nil
	}
	codebase, err := o.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return err
	}
	cwd := codebase.DefaultCwd
	if conv.Cwd != nil {
		cwd = *conv.Cwd
	}

	// Build the prompt. Only the non-slash path with discovered workflows
	// keeps a definitions list for invocation detection.
	var prompt, commandName string
	var definitions []workflow.Definition
	threadEmbedded := false
	switch {
	case isSlash && slashName == "command-invoke":
		prompt, commandName, err = o.buildCommandInvokePrompt(ctx, adapter, conversationID, codebase, cwd, slashRest, opts.IssueContext)
		if err != nil || prompt == "" {
			return err
		}
	case isSlash:
		prompt, commandName, err = o.buildTemplateCommandPrompt(ctx, adapter, conversationID, slashName, slashRest, opts.IssueContext)
		if err != nil || prompt == "" {
			return err
		}
	default:
		if o.artifacts != nil {
			o.artifacts.Sync(cwd)
		}

		definitions, err = o.registry.Discover(cwd)
		if err != nil {
			if isMissingPathError(err) {
				definitions = nil
			} else {
				log.Warn("Workflow discovery failed", zap.Error(err))
				o.send(ctx, adapter, conversationID, "Warning: workflow discovery failed; continuing without workflows.")
				definitions = nil
			}
		}

		if len(definitions) > 0 {
			hintType := ""
			if opts.Hints != nil {
				hintType = opts.Hints.WorkflowType
			}
			rctx := extractRouterContext(text, opts.IssueContext, adapter.PlatformType(), hintType, opts.ThreadContext)
			prompt = workflow.BuildRouterPrompt(text, definitions, rctx)
			commandName = "workflow-router"
			// The router prompt already carries the history section.
			threadEmbedded = opts.ThreadContext != ""
		} else if tpl, tplErr := o.store.GetTemplateByName(ctx, "router"); tplErr == nil {
			prompt = command.Wrap("router", command.Substitute(tpl.Content, []string{text}))
			commandName = "router"
		} else if errors.Is(tplErr, store.ErrNotFound) {
			prompt = text
		} else {
			return tplErr
		}
	}

	if opts.ThreadContext != "" && !threadEmbedded {
		prompt = fmt.Sprintf("## Thread Context (previous messages)\n\n%s\n\n---\n\n## Current Request\n\n%s",
			opts.ThreadContext, prompt)
	}

	// Isolation: repair a dangling reference, then resolve.
	conv = o.repairStaleIsolation(ctx, conv)
	resolution, err := o.resolver.Resolve(ctx, adapter, conversationID, codebase, opts.Hints)
	if err != nil {
		return err
	}
	if resolution.Blocked {
		o.publish(events.SubjectIsolationBlocked, map[string]interface{}{
			"conversation_id": conv.ID,
			"codebase_id":     codebase.ID,
		})
		return nil
	}
	env := resolution.Env
	cwd = env.WorkingPath

	now := time.Now().UTC()
	if err := o.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		IsolationEnvID: &env.ID,
		Cwd:            &env.WorkingPath,
		LastActivityAt: &now,
	}); err != nil {
		log.Warn("Failed to persist isolation reference", zap.Error(err))
	}
	if resolution.Created {
		o.publish(events.SubjectIsolationCreated, map[string]interface{}{
			"environment_id": env.ID,
			"codebase_id":    codebase.ID,
			"branch":         env.BranchName,
		})
	}

	session, resumeToken, err := o.selectSession(ctx, conv, codebase, commandName, resolution.Created)
	if err != nil {
		return err
	}

	return o.runAssistantTurn(ctx, adapter, runRequest{
		conversationID: conversationID,
		conv:           conv,
		codebase:       codebase,
		cwd:            cwd,
		prompt:         prompt,
		commandName:    commandName,
		definitions:    definitions,
		originalText:   text,
		issueContext:   opts.IssueContext,
		hints:          opts.Hints,
		env:            env,
		session:        session,
		resumeToken:    resumeToken,
	})
}

// loadConversation loads or creates the conversation and applies parent
// thread inheritance. A missing parent is treated as no inheritance.
func (o *Orchestrator) loadConversation(ctx context.Context, adapter platform.Adapter, conversationID, parentConversationID string) (*store.Conversation, error) {
	conv, err := o.store.GetOrCreateConversation(ctx, adapter.PlatformType(), conversationID, o.defaultAssistant)
	if err != nil {
		return nil, err
	}
	if parentConversationID == "" || conv.CodebaseID != nil {
		return conv, nil
	}

	parent, err := o.store.GetConversationByPlatform(ctx, adapter.PlatformType(), parentConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return conv, nil
		}
		return nil, err
	}
	if parent.CodebaseID == nil {
		return conv, nil
	}

	if err := o.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		CodebaseID: parent.CodebaseID,
		Cwd:        parent.Cwd,
	}); err != nil {
		o.logger.Warn("Failed to inherit parent codebase", zap.Error(err))
		return conv, nil
	}
	return o.store.GetConversation(ctx, conv.ID)
}

// buildCommandInvokePrompt renders `/command-invoke <name> [args...]` into
// a wrapped assistant prompt. An empty prompt with nil error means the user
// was already answered.
func (o *Orchestrator) buildCommandInvokePrompt(ctx context.Context, adapter platform.Adapter, conversationID string, codebase *store.Codebase, cwd, rest, issueContext string) (string, string, error) {
	args := command.SplitArgs(rest)
	if len(args) == 0 {
		o.send(ctx, adapter, conversationID, "Usage: /command-invoke <name> [args...]")
		return "", "", nil
	}
	name := args[0]

	spec, ok := codebase.Commands[name]
	if !ok {
		o.send(ctx, adapter, conversationID,
			fmt.Sprintf("Command /%s is not registered. Use /commands to list them.", name))
		return "", "", nil
	}

	content, err := os.ReadFile(filepath.Join(cwd, spec.Path))
	if err != nil {
		o.send(ctx, adapter, conversationID,
			fmt.Sprintf("Failed to read command file for /%s.", name))
		return "", "", nil
	}

	prompt := command.Wrap(name, command.Substitute(string(content), args[1:]))
	if issueContext != "" {
		prompt += "\n\n---\n\n" + issueContext
	}
	return prompt, name, nil
}

// buildTemplateCommandPrompt handles a slash command with no deterministic
// handler by rendering the global "command" template, if one exists.
func (o *Orchestrator) buildTemplateCommandPrompt(ctx context.Context, adapter platform.Adapter, conversationID, name, rest, issueContext string) (string, string, error) {
	tpl, err := o.store.GetTemplateByName(ctx, "command")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.send(ctx, adapter, conversationID,
				fmt.Sprintf("Unknown command: /%s\n\nType /help for available commands or /templates for command templates.", name))
			return "", "", nil
		}
		return "", "", err
	}

	args := append([]string{name}, command.SplitArgs(rest)...)
	prompt := command.Wrap(name, command.Substitute(tpl.Content, args))
	if issueContext != "" {
		prompt += "\n\n---\n\n" + issueContext
	}
	return prompt, name, nil
}

// repairStaleIsolation clears a conversation's isolation reference when the
// environment row or its on-disk path no longer exists. Best-effort.
func (o *Orchestrator) repairStaleIsolation(ctx context.Context, conv *store.Conversation) *store.Conversation {
	if conv.IsolationEnvID == nil {
		return conv
	}

	env, err := o.store.GetEnvironment(ctx, *conv.IsolationEnvID)
	stale := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		stale = true
	case err != nil:
		o.logger.Warn("Failed to load isolation environment", zap.Error(err))
		return conv
	case env.Status != store.EnvStatusActive || !o.git.WorktreeExists(env.WorkingPath):
		stale = true
	}
	if !stale {
		return conv
	}

	if env != nil {
		if err := o.store.MarkEnvironmentDestroyed(ctx, env.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("Failed to destroy stale environment", zap.Error(err))
		}
	}
	empty := ""
	if err := o.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{IsolationEnvID: &empty}); err != nil {
		// Missing conversation means the row is already gone; nothing to repair.
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("Failed to clear stale isolation reference", zap.Error(err))
		}
		return conv
	}
	repaired, err := o.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return conv
	}
	return repaired
}

// selectSession applies the session rules: a fresh isolation or a
// plan-to-execute transition rotates the session; otherwise the active
// session is resumed.
func (o *Orchestrator) selectSession(ctx context.Context, conv *store.Conversation, codebase *store.Codebase, commandName string, isNewIsolation bool) (*store.Session, string, error) {
	active, err := o.store.GetActiveSession(ctx, conv.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}
	if err != nil {
		active = nil
	}

	if active != nil && isNewIsolation {
		if err := o.store.DeactivateSession(ctx, active.ID); err != nil {
			return nil, "", err
		}
		active = nil
	}
	if active != nil && isPlanExecuteTransition(commandName, active.LastCommand()) {
		if err := o.store.DeactivateSession(ctx, active.ID); err != nil {
			return nil, "", err
		}
		o.publish(events.SubjectSessionRotated, map[string]interface{}{
			"conversation_id": conv.ID,
			"from_command":    active.LastCommand(),
			"to_command":      commandName,
		})
		active = nil
	}

	if active == nil {
		active = &store.Session{
			ConversationID: conv.ID,
			CodebaseID:     codebase.ID,
			AssistantType:  conv.AssistantType,
		}
		if err := o.store.CreateSession(ctx, active); err != nil {
			return nil, "", err
		}
		o.publish(events.SubjectSessionStarted, map[string]interface{}{
			"conversation_id": conv.ID,
			"session_id":      active.ID,
		})
		return active, "", nil
	}

	resumeToken := ""
	if active.AssistantSessionID != nil {
		resumeToken = *active.AssistantSessionID
	}
	return active, resumeToken, nil
}

// isPlanExecuteTransition reports whether the command pair forces a fresh
// session so planning bias never carries into execution.
func isPlanExecuteTransition(commandName, lastCommand string) bool {
	return (commandName == "execute" && lastCommand == "plan-feature") ||
		(commandName == "execute-github" && lastCommand == "plan-feature-github")
}

type runRequest struct {
	conversationID string
	conv           *store.Conversation
	codebase       *store.Codebase
	cwd            string
	prompt         string
	commandName    string
	definitions    []workflow.Definition
	originalText   string
	issueContext   string
	hints          *isolation.Hints
	env            *store.IsolationEnvironment
	session        *store.Session
	resumeToken    string
}

// runAssistantTurn streams one assistant turn, persisting resume tokens as
// they appear and deciding between workflow hand-off and direct output.
func (o *Orchestrator) runAssistantTurn(ctx context.Context, adapter platform.Adapter, req runRequest) error {
	client, err := o.clientFor(req.conv.AssistantType)
	if err != nil {
		return err
	}

	stream, err := client.SendQuery(ctx, req.prompt, req.cwd, req.resumeToken)
	if err != nil {
		return err
	}

	streaming := adapter.StreamingMode() == platform.StreamingModeStream
	var assistantParts []string
	for {
		chunk, chunkErr := stream.Next()
		if chunkErr != nil {
			if errors.Is(chunkErr, io.EOF) {
				break
			}
			return chunkErr
		}
		switch chunk.Kind {
		case assistant.KindAssistant:
			assistantParts = append(assistantParts, chunk.Content)
		case assistant.KindTool:
			if streaming {
				o.send(ctx, adapter, req.conversationID, formatToolCall(chunk))
			}
		case assistant.KindResult:
			if chunk.SessionID != "" {
				if err := o.store.UpdateSessionToken(ctx, req.session.ID, chunk.SessionID); err != nil {
					o.logger.Warn("Failed to persist session token", zap.Error(err))
				}
			}
		}
	}

	combined := strings.Join(assistantParts, chunkSeparator)
	if invocation, ok := workflow.DetectInvocation(combined, req.definitions); ok {
		if invocation.Preamble != "" {
			o.send(ctx, adapter, req.conversationID, invocation.Preamble)
		}
		o.publish(events.SubjectWorkflowInvoked, map[string]interface{}{
			"conversation_id": req.conv.ID,
			"workflow":        invocation.Workflow.Name,
		})
		o.executeWorkflow(ctx, adapter, req, invocation.Workflow)
	} else if streaming {
		for _, part := range assistantParts {
			if strings.TrimSpace(part) != "" {
				o.send(ctx, adapter, req.conversationID, part)
			}
		}
	} else if output := filterBatchOutput(assistantParts); output != "" {
		o.send(ctx, adapter, req.conversationID, output)
	}

	o.recordLastCommand(ctx, req.conv.ID, req.commandName)
	return nil
}

func (o *Orchestrator) executeWorkflow(ctx context.Context, adapter platform.Adapter, req runRequest, def workflow.Definition) {
	isolationCtx := workflow.IsolationContext{BranchName: req.env.BranchName}
	if req.hints != nil {
		isolationCtx.PRSha = req.hints.PRSha
		isolationCtx.PRBranch = req.hints.PRBranch
		isolationCtx.IsPRReview = req.hints.WorkflowType == store.WorkflowTypePR ||
			req.hints.WorkflowType == store.WorkflowTypeReview
	}

	// The executor owns its own user-facing error messaging.
	if err := o.executor.Execute(ctx, adapter, workflow.ExecutionRequest{
		ConversationID:   req.conversationID,
		ConversationDBID: req.conv.ID,
		CodebaseID:       req.codebase.ID,
		Cwd:              req.cwd,
		Workflow:         def,
		OriginalMessage:  req.originalText,
		IssueContext:     req.issueContext,
		Commands:         req.codebase.Commands,
		Isolation:        isolationCtx,
	}); err != nil {
		o.logger.Error("Workflow execution failed",
			zap.String("workflow", def.Name),
			zap.Error(err))
	}
}

// recordLastCommand stores the command that produced the current turn on
// the active session. Best-effort.
func (o *Orchestrator) recordLastCommand(ctx context.Context, conversationID, commandName string) {
	if commandName == "" {
		return
	}
	session, err := o.store.GetActiveSession(ctx, conversationID)
	if err != nil {
		return
	}
	metadata := session.Metadata
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata[store.MetadataKeyLastCommand] = commandName
	if err := o.store.UpdateSessionMetadata(ctx, session.ID, metadata); err != nil {
		o.logger.Warn("Failed to update session metadata", zap.Error(err))
	}
}

func (o *Orchestrator) clientFor(assistantType string) (assistant.Client, error) {
	if client, ok := o.clients[assistantType]; ok {
		return client, nil
	}
	if client, ok := o.clients[o.defaultAssistant]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("no assistant client for type %q", assistantType)
}

// send delivers a message through the adapter; everything user-visible
// passes the credential sanitizer first.
func (o *Orchestrator) send(ctx context.Context, adapter platform.Adapter, conversationID, text string) {
	if err := adapter.SendMessage(ctx, conversationID, SanitizeCredentials(text)); err != nil {
		o.logger.Warn("Failed to send platform message", zap.Error(err))
	}
}

func (o *Orchestrator) publish(subject string, data map[string]interface{}) {
	if o.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "orchestrator", data)
	if err := o.bus.Publish(context.Background(), subject, event); err != nil {
		o.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func splitSlash(text string) (string, string) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "/")
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 2 {
		return parts[0], strings.TrimSpace(parts[1])
	}
	return parts[0], ""
}

// isMissingPathError covers the silent branch of workflow-discovery error
// policy.
func isMissingPathError(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"no such file", "not found", "does not exist"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
