// Package git wraps git CLI invocations behind the Service interface used
// by isolation resolution and cleanup.
package git

import "context"

// WorktreeInfo describes one entry from `git worktree list`.
type WorktreeInfo struct {
	Path   string
	Branch string
}

// CreateWorktreeRequest carries everything needed to materialize a worktree
// for an issue- or PR-style workflow.
type CreateWorktreeRequest struct {
	RepoPath      string // canonical repo path
	RepositoryURL string // used to derive <owner>/<repo> in the worktree path
	Identifier    string // issue or PR number (opaque workflow id)
	IsPullRequest bool
	PRBranch      string
	PRSha         string
}

// Service is the git collaborator contract.
type Service interface {
	// WorktreeExists reports whether the path still exists on disk.
	WorktreeExists(path string) bool

	// ListWorktrees returns the worktrees of the canonical repo.
	ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeInfo, error)

	// FindWorktreeByBranch returns the path of the worktree checked out on
	// branch, or "" when no worktree has it.
	FindWorktreeByBranch(ctx context.Context, repoPath, branch string) (string, error)

	// CreateWorktree materializes a worktree for the request and returns
	// its path and branch.
	CreateWorktree(ctx context.Context, req CreateWorktreeRequest) (*WorktreeInfo, error)

	// RemoveWorktree removes a worktree and prunes stale registrations.
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error

	// CanonicalRepoPath resolves the canonical repo a worktree belongs to.
	// For a non-worktree path it returns the path unchanged.
	CanonicalRepoPath(path string) (string, error)

	// IsWorktreePath reports whether path is a linked worktree (its .git
	// entry is a file starting with "gitdir:").
	IsWorktreePath(path string) bool

	// HasUncommittedChanges is fail-safe: it returns true on unexpected
	// errors and false only when the path does not exist.
	HasUncommittedChanges(ctx context.Context, path string) bool

	// IsBranchMerged reports whether branch is fully merged into the
	// repo's default branch.
	IsBranchMerged(ctx context.Context, repoPath, branch string) (bool, error)

	// CommitAllChanges stages and commits everything in path. Returns
	// false when there was nothing to commit.
	CommitAllChanges(ctx context.Context, path, message string) (bool, error)

	// CloneRepository clones url into destPath. A no-op when destPath is
	// already a git repository.
	CloneRepository(ctx context.Context, url, destPath string) error
}
