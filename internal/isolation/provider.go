// Package isolation maps a (codebase, workflow identity) pair to a git
// worktree: reuse, link-based sharing, skill adoption, limit-triggered
// cleanup, and fresh creation.
package isolation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/store"
)

// Hints carry workflow identity and PR details supplied by the platform
// adapter, typically from a webhook payload.
type Hints struct {
	WorkflowType string
	WorkflowID   string
	PRBranch     string
	PRSha        string
	IsForkPR     bool
	LinkedIssues []int
	LinkedPRs    []int
}

// CreateRequest describes the environment to materialize.
type CreateRequest struct {
	Codebase     *store.Codebase
	WorkflowType string
	WorkflowID   string
	PRBranch     string
	PRSha        string
	IsForkPR     bool
	LinkedIssues []int
	LinkedPRs    []int
	Platform     string
}

// Provider creates isolation environments backed by git worktrees.
type Provider struct {
	git    git.Service
	store  store.EnvironmentStore
	logger *logger.Logger
}

func NewProvider(gitSvc git.Service, envStore store.EnvironmentStore, log *logger.Logger) *Provider {
	return &Provider{
		git:    gitSvc,
		store:  envStore,
		logger: log.WithFields(zap.String("component", "isolation_provider")),
	}
}

// Create materializes a worktree for the request and persists the
// environment record.
func (p *Provider) Create(ctx context.Context, req CreateRequest) (*store.IsolationEnvironment, error) {
	isPR := req.WorkflowType == store.WorkflowTypePR || req.WorkflowType == store.WorkflowTypeReview

	info, err := p.git.CreateWorktree(ctx, git.CreateWorktreeRequest{
		RepoPath:      req.Codebase.DefaultCwd,
		RepositoryURL: req.Codebase.RepositoryURL,
		Identifier:    req.WorkflowID,
		IsPullRequest: isPR,
		PRBranch:      req.PRBranch,
		PRSha:         req.PRSha,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	metadata := map[string]interface{}{}
	if len(req.LinkedIssues) > 0 {
		metadata["related_issues"] = req.LinkedIssues
	}
	if len(req.LinkedPRs) > 0 {
		metadata["related_prs"] = req.LinkedPRs
	}
	if req.IsForkPR {
		metadata["fork_pr"] = true
	}

	env := &store.IsolationEnvironment{
		CodebaseID:        req.Codebase.ID,
		WorkflowType:      req.WorkflowType,
		WorkflowID:        req.WorkflowID,
		Provider:          store.ProviderWorktree,
		WorkingPath:       info.Path,
		BranchName:        info.Branch,
		Status:            store.EnvStatusActive,
		CreatedByPlatform: req.Platform,
		Metadata:          metadata,
	}
	if err := p.store.CreateEnvironment(ctx, env); err != nil {
		// The worktree exists but the record failed; remove the worktree so
		// the next attempt starts clean.
		if rmErr := p.git.RemoveWorktree(ctx, req.Codebase.DefaultCwd, info.Path); rmErr != nil {
			p.logger.Warn("Failed to remove orphaned worktree",
				zap.String("path", info.Path),
				zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to persist isolation environment: %w", err)
	}

	p.logger.Info("Created isolation environment",
		zap.String("environment_id", env.ID),
		zap.String("workflow_type", env.WorkflowType),
		zap.String("workflow_id", env.WorkflowID),
		zap.String("path", env.WorkingPath))
	return env, nil
}
