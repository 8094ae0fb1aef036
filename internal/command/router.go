package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/lock"
	"github.com/archonhq/archon/internal/store"
)

// Result is the outcome of one deterministic command. Modified=true tells
// the orchestrator to reload the conversation.
type Result struct {
	Message  string
	Modified bool
}

// deterministicNames is the fixed set of commands handled without invoking
// the assistant.
var deterministicNames = map[string]bool{
	"help": true, "status": true, "getcwd": true, "setcwd": true,
	"clone": true, "repos": true, "repo": true, "repo-remove": true,
	"reset": true, "reset-context": true, "command-set": true,
	"load-commands": true, "commands": true, "template-add": true,
	"template-list": true, "templates": true, "template-delete": true,
	"worktree": true, "workflow": true,
}

// IsDeterministic reports whether name is fully handled by the router.
func IsDeterministic(name string) bool {
	return deterministicNames[name]
}

// WorkflowLister exposes workflow discovery to the /workflow command.
type WorkflowLister interface {
	WorkflowNames(cwd string) ([]string, error)
}

// Cleaner exposes stale-worktree cleanup to /worktree cleanup stale.
type Cleaner interface {
	CleanupStale(ctx context.Context, codebase *store.Codebase) (int, error)
}

// Router handles the deterministic slash commands.
type Router struct {
	store         store.Store
	git           git.Service
	workflows     WorkflowLister
	cleaner       Cleaner
	stats         func() lock.Stats
	sanitize      func(string) string
	reposBasePath string
	logger        *logger.Logger
}

// Config wires the router's collaborators.
type Config struct {
	Store         store.Store
	Git           git.Service
	Workflows     WorkflowLister
	Cleaner       Cleaner
	Stats         func() lock.Stats
	Sanitize      func(string) string
	ReposBasePath string
}

// NewRouter creates a command router.
func NewRouter(cfg Config, log *logger.Logger) *Router {
	sanitize := cfg.Sanitize
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return &Router{
		store:         cfg.Store,
		git:           cfg.Git,
		workflows:     cfg.Workflows,
		cleaner:       cfg.Cleaner,
		stats:         cfg.Stats,
		sanitize:      sanitize,
		reposBasePath: cfg.ReposBasePath,
		logger:        log.WithFields(zap.String("component", "command_router")),
	}
}

// Handle dispatches one deterministic command. Errors never propagate;
// they become sanitized messages with Modified=false.
func (r *Router) Handle(ctx context.Context, conv *store.Conversation, raw string) Result {
	name, argsRaw := splitCommand(raw)

	message, modified, err := r.dispatch(ctx, conv, name, argsRaw)
	if err != nil {
		r.logger.WithConversationID(conv.ID).Warn("Command failed",
			zap.String("command", name),
			zap.Error(err))
		return Result{Message: r.sanitize(fmt.Sprintf("Error: %v", err))}
	}
	return Result{Message: message, Modified: modified}
}

func splitCommand(raw string) (string, string) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "/")
	parts := strings.SplitN(raw, " ", 2)
	name := parts[0]
	argsRaw := ""
	if len(parts) == 2 {
		argsRaw = strings.TrimSpace(parts[1])
	}
	return name, argsRaw
}

func (r *Router) dispatch(ctx context.Context, conv *store.Conversation, name, argsRaw string) (string, bool, error) {
	switch name {
	case "help":
		return helpText, false, nil
	case "status":
		return r.handleStatus(ctx, conv)
	case "getcwd":
		return r.handleGetcwd(ctx, conv)
	case "setcwd":
		return r.handleSetcwd(ctx, conv, argsRaw)
	case "clone":
		return r.handleClone(ctx, conv, argsRaw)
	case "repos":
		return r.handleRepos(ctx)
	case "repo":
		return r.handleRepo(ctx, conv, argsRaw)
	case "repo-remove":
		return r.handleRepoRemove(ctx, conv, argsRaw)
	case "reset":
		return r.handleReset(ctx, conv)
	case "reset-context":
		return r.handleResetContext(ctx, conv)
	case "command-set":
		return r.handleCommandSet(ctx, conv, argsRaw)
	case "load-commands":
		return r.handleLoadCommands(ctx, conv)
	case "commands":
		return r.handleCommands(ctx, conv)
	case "template-add":
		return r.handleTemplateAdd(ctx, argsRaw)
	case "template-list", "templates":
		return r.handleTemplateList(ctx)
	case "template-delete":
		return r.handleTemplateDelete(ctx, argsRaw)
	case "worktree":
		return r.handleWorktree(ctx, conv, argsRaw)
	case "workflow":
		return r.handleWorkflow(ctx, conv)
	default:
		return "", false, fmt.Errorf("unhandled command: /%s", name)
	}
}

const helpText = `Available commands:

*Repositories*
/clone <url> [name] - Clone a repository and switch to it
/repos - List registered repositories
/repo <name> - Switch to a repository
/repo-remove <name> - Unregister a repository

*Working directory*
/getcwd - Show the working directory
/setcwd <path> - Set the working directory

*Sessions*
/status - Show conversation status
/reset - Start a fresh assistant session
/reset-context - Reset session, working directory, and worktree

*Commands & templates*
/commands - List repository commands
/command-set <name> <path> [description] - Register a command file
/load-commands - Discover command files in the repository
/command-invoke <name> [args] - Run a command through the assistant
/templates - List prompt templates
/template-add <name> <content> - Add or replace a template
/template-delete <name> - Delete a template

*Worktrees & workflows*
/worktree list - List active worktrees
/worktree remove <branch> - Remove a worktree
/worktree cleanup stale - Remove stale worktrees
/workflow - List workflows in the working directory`

func (r *Router) handleStatus(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", conv.PlatformType)

	if conv.CodebaseID != nil {
		codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
		if err == nil {
			fmt.Fprintf(&b, "Repository: %s\n", codebase.Name)
			count, countErr := r.store.CountActiveEnvironments(ctx, codebase.ID)
			if countErr == nil {
				fmt.Fprintf(&b, "Active worktrees: %d\n", count)
			}
		} else {
			b.WriteString("Repository: (missing record)\n")
		}
	} else {
		b.WriteString("Repository: none\n")
	}

	if cwd := effectiveCwdString(conv); cwd != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", cwd)
	}

	session, err := r.store.GetActiveSession(ctx, conv.ID)
	switch {
	case err == nil:
		b.WriteString("Session: active")
		if last := session.LastCommand(); last != "" {
			fmt.Fprintf(&b, " (last command: %s)", last)
		}
		b.WriteString("\n")
	case errors.Is(err, store.ErrNotFound):
		b.WriteString("Session: none\n")
	default:
		return "", false, err
	}

	if r.stats != nil {
		s := r.stats()
		fmt.Fprintf(&b, "Dispatch: %d active, %d queued (limit %d)\n", s.Active, s.QueuedTotal, s.MaxConcurrent)
	}

	return strings.TrimSpace(b.String()), false, nil
}

func effectiveCwdString(conv *store.Conversation) string {
	if conv.Cwd != nil {
		return *conv.Cwd
	}
	return ""
}

func (r *Router) handleGetcwd(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if conv.Cwd != nil {
		return *conv.Cwd, false, nil
	}
	if conv.CodebaseID != nil {
		codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
		if err != nil {
			return "", false, err
		}
		return codebase.DefaultCwd, false, nil
	}
	return "No working directory configured. Use /setcwd <path> or /repo <name>.", false, nil
}

func (r *Router) handleSetcwd(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	path := strings.TrimSpace(argsRaw)
	if path == "" {
		return "Usage: /setcwd <absolute-path>", false, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("Directory not found: %s", path), false, nil
	}

	// Changing cwd invalidates the assistant session tied to the old one.
	if err := r.store.DeactivateSessionsByConversation(ctx, conv.ID); err != nil {
		return "", false, err
	}
	if err := r.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{Cwd: &path}); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Working directory set to %s", path), true, nil
}

func (r *Router) handleClone(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	args := SplitArgs(argsRaw)
	if len(args) == 0 {
		return "Usage: /clone <url> [name]", false, nil
	}
	url := args[0]
	owner, repo := git.ParseOwnerRepo(url)
	name := repo
	if len(args) > 1 {
		name = args[1]
	}

	if _, err := r.store.GetCodebaseByName(ctx, name); err == nil {
		return fmt.Sprintf("A repository named %q already exists. Use /repo %s to switch to it.", name, name), false, nil
	}

	destPath := filepath.Join(r.reposBasePath, owner, repo)
	if err := r.git.CloneRepository(ctx, url, destPath); err != nil {
		return "", false, err
	}

	codebase := &store.Codebase{
		Name:          name,
		RepositoryURL: url,
		DefaultCwd:    destPath,
		AssistantType: conv.AssistantType,
	}
	if err := r.store.CreateCodebase(ctx, codebase); err != nil {
		return "", false, err
	}

	if err := r.switchConversation(ctx, conv, codebase); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Cloned %s as %q. Now working in %s.", url, name, destPath), true, nil
}

func (r *Router) handleRepos(ctx context.Context) (string, bool, error) {
	codebases, err := r.store.ListCodebases(ctx)
	if err != nil {
		return "", false, err
	}
	if len(codebases) == 0 {
		return "No repositories registered. Use /clone <url> to add one.", false, nil
	}
	var b strings.Builder
	b.WriteString("Registered repositories:\n")
	for _, c := range codebases {
		fmt.Fprintf(&b, "• %s - %s\n", c.Name, c.RepositoryURL)
	}
	b.WriteString("\nSwitch with /repo <name>.")
	return b.String(), false, nil
}

func (r *Router) handleRepo(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	name := strings.TrimSpace(argsRaw)
	if name == "" {
		return "Usage: /repo <name>", false, nil
	}
	codebase, err := r.store.GetCodebaseByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Unknown repository %q. Use /repos to list them.", name), false, nil
		}
		return "", false, err
	}
	if err := r.switchConversation(ctx, conv, codebase); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Switched to %s (%s).", codebase.Name, codebase.DefaultCwd), true, nil
}

// switchConversation points the conversation at a codebase, resetting cwd,
// isolation reference, and any active session.
func (r *Router) switchConversation(ctx context.Context, conv *store.Conversation, codebase *store.Codebase) error {
	if err := r.store.DeactivateSessionsByConversation(ctx, conv.ID); err != nil {
		return err
	}
	empty := ""
	return r.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		CodebaseID:     &codebase.ID,
		Cwd:            &codebase.DefaultCwd,
		IsolationEnvID: &empty,
	})
}

func (r *Router) handleRepoRemove(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	name := strings.TrimSpace(argsRaw)
	if name == "" {
		return "Usage: /repo-remove <name>", false, nil
	}
	codebase, err := r.store.GetCodebaseByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Unknown repository %q.", name), false, nil
		}
		return "", false, err
	}
	if err := r.store.DeleteCodebase(ctx, codebase.ID); err != nil {
		return "", false, err
	}

	modified := false
	if conv.CodebaseID != nil && *conv.CodebaseID == codebase.ID {
		empty := ""
		if err := r.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
			CodebaseID:     &empty,
			Cwd:            &empty,
			IsolationEnvID: &empty,
		}); err != nil {
			return "", false, err
		}
		modified = true
	}
	return fmt.Sprintf("Removed repository %q. Files on disk were left in place.", name), modified, nil
}

func (r *Router) handleReset(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if err := r.store.DeactivateSessionsByConversation(ctx, conv.ID); err != nil {
		return "", false, err
	}
	return "Session reset. The next message starts a fresh session.", false, nil
}

func (r *Router) handleResetContext(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if err := r.store.DeactivateSessionsByConversation(ctx, conv.ID); err != nil {
		return "", false, err
	}
	empty := ""
	if err := r.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		Cwd:            &empty,
		IsolationEnvID: &empty,
	}); err != nil {
		return "", false, err
	}
	return "Context reset: session ended, working directory and worktree cleared.", true, nil
}

func (r *Router) handleCommandSet(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	if conv.CodebaseID == nil {
		return noCodebaseMessage, false, nil
	}
	args := SplitArgs(argsRaw)
	if len(args) < 2 {
		return "Usage: /command-set <name> <path> [description]", false, nil
	}
	name, path := args[0], args[1]
	description := strings.Join(args[2:], " ")

	codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return "", false, err
	}
	if codebase.Commands == nil {
		codebase.Commands = make(map[string]store.CommandSpec)
	}
	codebase.Commands[name] = store.CommandSpec{Path: path, Description: description}
	if err := r.store.UpdateCodebase(ctx, codebase); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Command /%s registered (%s).", name, path), false, nil
}

func (r *Router) handleLoadCommands(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if conv.CodebaseID == nil {
		return noCodebaseMessage, false, nil
	}
	codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return "", false, err
	}
	cwd := codebase.DefaultCwd
	if conv.Cwd != nil {
		cwd = *conv.Cwd
	}

	commandsDir := filepath.Join(cwd, ".archon", "commands")
	entries, err := os.ReadDir(commandsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("No command directory found at %s.", commandsDir), false, nil
		}
		return "", false, err
	}

	if codebase.Commands == nil {
		codebase.Commands = make(map[string]store.CommandSpec)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		relPath := filepath.Join(".archon", "commands", entry.Name())
		codebase.Commands[name] = store.CommandSpec{
			Path:        relPath,
			Description: firstHeading(filepath.Join(commandsDir, entry.Name())),
		}
		loaded++
	}
	if loaded == 0 {
		return "No command files (*.md) found.", false, nil
	}
	if err := r.store.UpdateCodebase(ctx, codebase); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Loaded %d command(s). Use /commands to list them.", loaded), false, nil
}

// firstHeading returns the first non-empty line of a markdown file with
// leading # markers stripped, for use as a command description.
func firstHeading(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return line
		}
	}
	return ""
}

func (r *Router) handleCommands(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if conv.CodebaseID == nil {
		return noCodebaseMessage, false, nil
	}
	codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return "", false, err
	}
	if len(codebase.Commands) == 0 {
		return "No commands registered. Use /command-set or /load-commands.", false, nil
	}

	names := make([]string, 0, len(codebase.Commands))
	for name := range codebase.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Commands for %s:\n", codebase.Name)
	for _, name := range names {
		spec := codebase.Commands[name]
		if spec.Description != "" {
			fmt.Fprintf(&b, "• /%s - %s\n", name, spec.Description)
		} else {
			fmt.Fprintf(&b, "• /%s\n", name)
		}
	}
	b.WriteString("\nRun one with /command-invoke <name> [args].")
	return b.String(), false, nil
}

func (r *Router) handleTemplateAdd(ctx context.Context, argsRaw string) (string, bool, error) {
	parts := strings.SplitN(argsRaw, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "Usage: /template-add <name> <content>", false, nil
	}
	name := strings.TrimSpace(parts[0])
	content := strings.TrimSpace(parts[1])

	if err := r.store.UpsertTemplate(ctx, &store.Template{Name: name, Content: content}); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Template %q saved.", name), false, nil
}

func (r *Router) handleTemplateList(ctx context.Context) (string, bool, error) {
	templates, err := r.store.ListTemplates(ctx)
	if err != nil {
		return "", false, err
	}
	if len(templates) == 0 {
		return "No templates defined. Use /template-add <name> <content>.", false, nil
	}
	var b strings.Builder
	b.WriteString("Templates:\n")
	for _, t := range templates {
		preview := t.Content
		if len(preview) > 60 {
			preview = preview[:57] + "..."
		}
		fmt.Fprintf(&b, "• %s - %s\n", t.Name, preview)
	}
	return b.String(), false, nil
}

func (r *Router) handleTemplateDelete(ctx context.Context, argsRaw string) (string, bool, error) {
	name := strings.TrimSpace(argsRaw)
	if name == "" {
		return "Usage: /template-delete <name>", false, nil
	}
	if err := r.store.DeleteTemplate(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("No template named %q.", name), false, nil
		}
		return "", false, err
	}
	return fmt.Sprintf("Template %q deleted.", name), false, nil
}

const noCodebaseMessage = "No codebase configured. Use /clone for a new repo or /repos to list your current repos you can switch to."

func (r *Router) handleWorktree(ctx context.Context, conv *store.Conversation, argsRaw string) (string, bool, error) {
	if conv.CodebaseID == nil {
		return noCodebaseMessage, false, nil
	}
	codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return "", false, err
	}

	args := SplitArgs(argsRaw)
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "", "list":
		return r.worktreeList(ctx, codebase)
	case "remove":
		if len(args) < 2 {
			return "Usage: /worktree remove <branch>", false, nil
		}
		return r.worktreeRemove(ctx, conv, codebase, args[1])
	case "cleanup":
		if len(args) < 2 || args[1] != "stale" {
			return "Usage: /worktree cleanup stale", false, nil
		}
		if r.cleaner == nil {
			return "Cleanup is not available.", false, nil
		}
		removed, err := r.cleaner.CleanupStale(ctx, codebase)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("Removed %d stale worktree(s).", removed), false, nil
	default:
		return "Usage: /worktree list | remove <branch> | cleanup stale", false, nil
	}
}

func (r *Router) worktreeList(ctx context.Context, codebase *store.Codebase) (string, bool, error) {
	envs, err := r.store.ListActiveEnvironments(ctx, codebase.ID)
	if err != nil {
		return "", false, err
	}
	if len(envs) == 0 {
		return fmt.Sprintf("No active worktrees for %s.", codebase.Name), false, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Worktrees for %s:\n", codebase.Name)
	for _, env := range envs {
		age := time.Since(env.CreatedAt).Round(time.Hour)
		fmt.Fprintf(&b, "• %s (%s %s, %s old) - %s\n", env.BranchName, env.WorkflowType, env.WorkflowID, age, env.WorkingPath)
	}
	return b.String(), false, nil
}

func (r *Router) worktreeRemove(ctx context.Context, conv *store.Conversation, codebase *store.Codebase, branch string) (string, bool, error) {
	envs, err := r.store.ListActiveEnvironments(ctx, codebase.ID)
	if err != nil {
		return "", false, err
	}
	var target *store.IsolationEnvironment
	for _, env := range envs {
		if env.BranchName == branch || env.WorkflowID == branch {
			target = env
			break
		}
	}
	if target == nil {
		return fmt.Sprintf("No active worktree named %q. Use /worktree list.", branch), false, nil
	}

	if err := r.git.RemoveWorktree(ctx, codebase.DefaultCwd, target.WorkingPath); err != nil {
		return "", false, err
	}
	if err := r.store.MarkEnvironmentDestroyed(ctx, target.ID); err != nil {
		return "", false, err
	}

	modified := false
	if conv.IsolationEnvID != nil && *conv.IsolationEnvID == target.ID {
		empty := ""
		if err := r.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{IsolationEnvID: &empty}); err != nil {
			return "", false, err
		}
		modified = true
	}
	return fmt.Sprintf("Removed worktree %s.", target.BranchName), modified, nil
}

func (r *Router) handleWorkflow(ctx context.Context, conv *store.Conversation) (string, bool, error) {
	if conv.CodebaseID == nil {
		return noCodebaseMessage, false, nil
	}
	codebase, err := r.store.GetCodebase(ctx, *conv.CodebaseID)
	if err != nil {
		return "", false, err
	}
	cwd := codebase.DefaultCwd
	if conv.Cwd != nil {
		cwd = *conv.Cwd
	}

	names, err := r.workflows.WorkflowNames(cwd)
	if err != nil {
		return "", false, err
	}
	if len(names) == 0 {
		return "No workflows defined in this repository.", false, nil
	}
	var b strings.Builder
	b.WriteString("Workflows:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "• %s\n", name)
	}
	b.WriteString("\nDescribe what you need and the assistant will pick one.")
	return b.String(), false, nil
}
