package isolation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store"
)

// blockedSuffix is appended to every isolation-creation failure message.
const blockedSuffix = " Execution blocked to prevent changes to shared codebase. Please resolve the issue and try again."

// Resolution is the resolver outcome. Blocked means the user was already
// messaged and the orchestrator must stop silently.
type Resolution struct {
	Env     *store.IsolationEnvironment
	Created bool
	Blocked bool
}

// Resolver produces the isolation environment a message handler must use.
type Resolver struct {
	store          store.Store
	git            git.Service
	provider       *Provider
	cleanup        *CleanupService
	maxPerCodebase int
	staleDays      int
	logger         *logger.Logger
}

func NewResolver(st store.Store, gitSvc git.Service, provider *Provider, cleanup *CleanupService, maxPerCodebase, staleDays int, log *logger.Logger) *Resolver {
	return &Resolver{
		store:          st,
		git:            gitSvc,
		provider:       provider,
		cleanup:        cleanup,
		maxPerCodebase: maxPerCodebase,
		staleDays:      staleDays,
		logger:         log.WithFields(zap.String("component", "isolation_resolver")),
	}
}

// Resolve walks reuse, link sharing, skill adoption, limit enforcement, and
// creation, stopping at the first step that yields an environment. User
// explanations go straight to the adapter; on Blocked the caller stops.
func (r *Resolver) Resolve(ctx context.Context, adapter platform.Adapter, conversationID string, codebase *store.Codebase, hints *Hints) (*Resolution, error) {
	workflowType, workflowID := workflowIdentity(conversationID, hints)
	log := r.logger.WithConversationID(conversationID)

	// Reuse an environment for the same workflow identity.
	env, err := r.store.FindActiveEnvironment(ctx, codebase.ID, workflowType, workflowID)
	switch {
	case err == nil && r.git.WorktreeExists(env.WorkingPath):
		return &Resolution{Env: env}, nil
	case err == nil:
		// The row points at a vanished worktree. Retire it so only one
		// active environment ever exists per workflow identity.
		r.retire(ctx, env, log)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	// Link-based sharing: a PR linked to an issue reuses the issue worktree.
	if hints != nil {
		for _, n := range hints.LinkedIssues {
			linked, err := r.store.FindActiveEnvironment(ctx, codebase.ID, store.WorkflowTypeIssue, strconv.Itoa(n))
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			if !r.git.WorktreeExists(linked.WorkingPath) {
				r.retire(ctx, linked, log)
				continue
			}
			r.send(ctx, adapter, conversationID, fmt.Sprintf("Reusing worktree from issue #%d", n))
			return &Resolution{Env: linked}, nil
		}
	}

	// Skill adoption: a worktree someone created out of band on the hinted
	// branch gets a tracking record instead of a duplicate.
	if hints != nil && hints.PRBranch != "" {
		path, err := r.git.FindWorktreeByBranch(ctx, codebase.DefaultCwd, hints.PRBranch)
		if err != nil {
			log.Warn("Worktree lookup by branch failed", zap.Error(err))
		} else if path != "" && r.git.WorktreeExists(path) {
			adopted := &store.IsolationEnvironment{
				CodebaseID:   codebase.ID,
				WorkflowType: workflowType,
				WorkflowID:   workflowID,
				Provider:     store.ProviderWorktree,
				WorkingPath:  path,
				BranchName:   hints.PRBranch,
				Metadata: map[string]interface{}{
					"adopted":      true,
					"adopted_from": "skill",
				},
			}
			if err := r.store.CreateEnvironment(ctx, adopted); err != nil {
				return nil, err
			}
			log.Info("Adopted existing worktree",
				zap.String("branch", hints.PRBranch),
				zap.String("path", path))
			return &Resolution{Env: adopted, Created: true}, nil
		}
	}

	// Limit enforcement with one auto-cleanup attempt before blocking.
	count, err := r.store.CountActiveEnvironments(ctx, codebase.ID)
	if err != nil {
		return nil, err
	}
	if count >= r.maxPerCodebase {
		removed, err := r.cleanup.CleanupToMakeRoom(ctx, codebase)
		if err != nil {
			log.Warn("Cleanup to make room failed", zap.Error(err))
		}
		if removed > 0 {
			r.send(ctx, adapter, conversationID, fmt.Sprintf("Cleaned up %d merged worktree(s) to make room.", removed))
			count, err = r.store.CountActiveEnvironments(ctx, codebase.ID)
			if err != nil {
				return nil, err
			}
		}
		if count >= r.maxPerCodebase {
			breakdown, err := r.cleanup.Classify(ctx, codebase)
			if err != nil {
				log.Warn("Worktree breakdown failed", zap.Error(err))
				breakdown = Breakdown{Total: count, Active: count}
			}
			r.send(ctx, adapter, conversationID, r.formatLimitMessage(codebase.Name, breakdown))
			return &Resolution{Blocked: true}, nil
		}
	}

	req := CreateRequest{
		Codebase:     codebase,
		WorkflowType: workflowType,
		WorkflowID:   workflowID,
		Platform:     adapter.PlatformType(),
	}
	if hints != nil {
		req.PRBranch = hints.PRBranch
		req.PRSha = hints.PRSha
		req.IsForkPR = hints.IsForkPR
		req.LinkedIssues = hints.LinkedIssues
		req.LinkedPRs = hints.LinkedPRs
	}

	created, err := r.provider.Create(ctx, req)
	if err != nil {
		log.Error("Isolation creation failed", zap.Error(err))
		r.send(ctx, adapter, conversationID, classifyCreationError(err)+blockedSuffix)
		return &Resolution{Blocked: true}, nil
	}
	return &Resolution{Env: created, Created: true}, nil
}

// retire marks an environment whose worktree vanished on disk as destroyed.
// Best-effort.
func (r *Resolver) retire(ctx context.Context, env *store.IsolationEnvironment, log *logger.Logger) {
	if err := r.store.MarkEnvironmentDestroyed(ctx, env.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("Failed to retire vanished environment",
			zap.String("environment_id", env.ID),
			zap.Error(err))
	}
}

// workflowIdentity defaults to a thread workflow keyed by the conversation.
func workflowIdentity(conversationID string, hints *Hints) (string, string) {
	if hints != nil && hints.WorkflowType != "" && hints.WorkflowID != "" {
		return hints.WorkflowType, hints.WorkflowID
	}
	return store.WorkflowTypeThread, conversationID
}

func (r *Resolver) send(ctx context.Context, adapter platform.Adapter, conversationID, text string) {
	if err := adapter.SendMessage(ctx, conversationID, text); err != nil {
		r.logger.Warn("Failed to send isolation message", zap.Error(err))
	}
}

func (r *Resolver) formatLimitMessage(codebaseName string, b Breakdown) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Worktree limit reached (%d/%d) for **%s**.\n\n", b.Total, r.maxPerCodebase, codebaseName)
	sb.WriteString("**Status:**\n")
	fmt.Fprintf(&sb, "• %d merged (can auto-remove)\n", b.Merged)
	fmt.Fprintf(&sb, "• %d stale (no activity in %d+ days)\n", b.Stale, r.staleDays)
	fmt.Fprintf(&sb, "• %d active\n\n", b.Active)
	sb.WriteString("**Options:**\n")
	if b.Stale > 0 {
		sb.WriteString("• `/worktree cleanup stale` - Remove stale worktrees\n")
	}
	sb.WriteString("• `/worktree list` - See all worktrees\n")
	sb.WriteString("• `/worktree remove <name>` - Remove specific worktree")
	return sb.String()
}

// classifyCreationError maps a worktree-creation failure to a user-facing
// explanation.
func classifyCreationError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "eacces"):
		return "Cannot create isolated worktree: permission denied."
	case strings.Contains(msg, "timeout"):
		return "Cannot create isolated worktree: git is slow or unavailable."
	case strings.Contains(msg, "no space left") || strings.Contains(msg, "enospc"):
		return "Cannot create isolated worktree: disk is full."
	case strings.Contains(msg, "not a git repository"):
		return "Cannot create isolated worktree: target is not a git repository."
	default:
		return "Cannot create isolated worktree."
	}
}
