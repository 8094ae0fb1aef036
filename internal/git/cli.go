package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
)

const (
	// networkTimeout bounds operations that may touch the network
	// (fetch, worktree add of remote refs).
	networkTimeout = 30 * time.Second
	// localTimeout bounds purely local operations.
	localTimeout = 10 * time.Second
)

// CLIService implements Service by shelling out to the git binary.
type CLIService struct {
	basePath string // base directory for created worktrees
	logger   *logger.Logger
}

// NewCLIService creates a git CLI service. Created worktrees are placed
// under basePath/<owner>/<repo>/<branch>.
func NewCLIService(basePath string, log *logger.Logger) *CLIService {
	return &CLIService{
		basePath: expandHome(basePath),
		logger:   log.WithFields(zap.String("component", "git")),
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// run executes git in dir with the given timeout and returns combined output.
func (s *CLIService) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// WorktreeExists reports whether the path still exists on disk
func (s *CLIService) WorktreeExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListWorktrees returns the worktrees of the canonical repo
func (s *CLIService) ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeInfo, error) {
	output, err := s.run(ctx, repoPath, localTimeout, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

// parseWorktreeList parses `git worktree list --porcelain` output.
func parseWorktreeList(output string) []WorktreeInfo {
	var result []WorktreeInfo
	var current *WorktreeInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				result = append(result, *current)
			}
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			if current != nil {
				ref := strings.TrimPrefix(line, "branch ")
				current.Branch = strings.TrimPrefix(ref, "refs/heads/")
			}
		case line == "" && current != nil:
			result = append(result, *current)
			current = nil
		}
	}
	if current != nil {
		result = append(result, *current)
	}
	return result
}

// FindWorktreeByBranch returns the path of the worktree on branch, or ""
func (s *CLIService) FindWorktreeByBranch(ctx context.Context, repoPath, branch string) (string, error) {
	worktrees, err := s.ListWorktrees(ctx, repoPath)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}
	return "", nil
}

// CreateWorktree materializes a worktree for an issue or PR workflow.
//
// PR with a known sha: fetch pull/<n>/head, add the worktree detached at
// the sha, then branch pr-<n>-review from it. The pull/<n>/head ref covers
// fork PRs, which have no branch on origin.
// PR with only a branch: fetch pull/<n>/head into pr-<n>-review and add the
// worktree on that branch.
// Issue: add the worktree on a fresh issue-<n> branch, reusing the branch
// if it already exists.
func (s *CLIService) CreateWorktree(ctx context.Context, req CreateWorktreeRequest) (*WorktreeInfo, error) {
	owner, repo := ParseOwnerRepo(req.RepositoryURL)
	var branch string
	if req.IsPullRequest {
		branch = fmt.Sprintf("pr-%s-review", req.Identifier)
	} else {
		branch = fmt.Sprintf("issue-%s", req.Identifier)
	}
	worktreePath := filepath.Join(s.basePath, owner, repo, branch)

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree parent directory: %w", err)
	}

	if req.IsPullRequest {
		pullRef := fmt.Sprintf("pull/%s/head", req.Identifier)
		if req.PRSha != "" {
			if _, err := s.run(ctx, req.RepoPath, networkTimeout, "fetch", "origin", pullRef); err != nil {
				return nil, err
			}
			if _, err := s.run(ctx, req.RepoPath, networkTimeout, "worktree", "add", worktreePath, req.PRSha); err != nil {
				return nil, err
			}
			if _, err := s.run(ctx, worktreePath, localTimeout, "checkout", "-b", branch, req.PRSha); err != nil {
				return nil, err
			}
		} else {
			if _, err := s.run(ctx, req.RepoPath, networkTimeout, "fetch", "origin", pullRef+":"+branch); err != nil {
				return nil, err
			}
			if _, err := s.run(ctx, req.RepoPath, networkTimeout, "worktree", "add", worktreePath, branch); err != nil {
				return nil, err
			}
		}
	} else {
		if _, err := s.run(ctx, req.RepoPath, networkTimeout, "worktree", "add", worktreePath, "-b", branch); err != nil {
			// Branch may already exist from a previous run; reuse it.
			if _, retryErr := s.run(ctx, req.RepoPath, networkTimeout, "worktree", "add", worktreePath, branch); retryErr != nil {
				return nil, err
			}
		}
	}

	s.logger.Info("Created worktree",
		zap.String("path", worktreePath),
		zap.String("branch", branch))

	return &WorktreeInfo{Path: worktreePath, Branch: branch}, nil
}

// RemoveWorktree removes a worktree and prunes stale registrations
func (s *CLIService) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if _, err := s.run(ctx, repoPath, networkTimeout, "worktree", "remove", "--force", worktreePath); err != nil {
		// The directory may already be gone; prune fixes the registration.
		if _, pruneErr := s.run(ctx, repoPath, localTimeout, "worktree", "prune"); pruneErr != nil {
			return err
		}
		if s.WorktreeExists(worktreePath) {
			return err
		}
		return nil
	}
	_, _ = s.run(ctx, repoPath, localTimeout, "worktree", "prune")
	return nil
}

// IsWorktreePath reports whether path is a linked worktree
func (s *CLIService) IsWorktreePath(path string) bool {
	gitPath := filepath.Join(path, ".git")
	info, err := os.Stat(gitPath)
	if err != nil || info.IsDir() {
		return false
	}
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(content)), "gitdir:")
}

// CanonicalRepoPath resolves the canonical repo a worktree belongs to.
// For a non-worktree path it returns the path unchanged.
func (s *CLIService) CanonicalRepoPath(path string) (string, error) {
	gitPath := filepath.Join(path, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s", path)
	}
	if info.IsDir() {
		return path, nil
	}
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", err
	}
	canonical, ok := canonicalFromGitdir(strings.TrimSpace(string(content)))
	if !ok {
		return "", fmt.Errorf("unrecognized .git file in %s", path)
	}
	return canonical, nil
}

// canonicalFromGitdir extracts the canonical repo path from a worktree's
// .git file content of the form "gitdir: <repo>/.git/worktrees/<name>".
func canonicalFromGitdir(content string) (string, bool) {
	if !strings.HasPrefix(content, "gitdir:") {
		return "", false
	}
	gitdir := strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
	marker := string(filepath.Separator) + ".git" + string(filepath.Separator) + "worktrees" + string(filepath.Separator)
	idx := strings.Index(gitdir, marker)
	if idx < 0 {
		return "", false
	}
	return gitdir[:idx], true
}

// HasUncommittedChanges is fail-safe: unexpected errors count as dirty so
// cleanup never removes work it cannot inspect. Only a missing path is
// reported clean.
func (s *CLIService) HasUncommittedChanges(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	output, err := s.run(ctx, path, localTimeout, "status", "--porcelain")
	if err != nil {
		s.logger.Warn("Uncommitted-change check failed, treating as dirty",
			zap.String("path", path), zap.Error(err))
		return true
	}
	return strings.TrimSpace(output) != ""
}

// IsBranchMerged reports whether branch is fully merged into the default branch
func (s *CLIService) IsBranchMerged(ctx context.Context, repoPath, branch string) (bool, error) {
	base := s.defaultBranch(ctx, repoPath)
	_, err := s.run(ctx, repoPath, localTimeout, "merge-base", "--is-ancestor", branch, base)
	if err == nil {
		return true, nil
	}
	// Exit status 1 means not an ancestor; other failures bubble up.
	if strings.Contains(err.Error(), "exit status 1") {
		return false, nil
	}
	return false, err
}

// defaultBranch resolves the repository's default branch, falling back to main.
func (s *CLIService) defaultBranch(ctx context.Context, repoPath string) string {
	output, err := s.run(ctx, repoPath, localTimeout, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(output)
		if name := strings.TrimPrefix(ref, "refs/remotes/origin/"); name != ref {
			return name
		}
	}
	return "main"
}

// CommitAllChanges stages and commits everything in path
func (s *CLIService) CommitAllChanges(ctx context.Context, path, message string) (bool, error) {
	if !s.HasUncommittedChanges(ctx, path) {
		return false, nil
	}
	if _, err := s.run(ctx, path, localTimeout, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := s.run(ctx, path, localTimeout, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// CloneRepository clones url into destPath. A no-op when destPath is
// already a git repository.
func (s *CLIService) CloneRepository(ctx context.Context, url, destPath string) error {
	if info, err := os.Stat(filepath.Join(destPath, ".git")); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create clone parent directory: %w", err)
	}
	// Clones can be slow; give them double the network budget.
	_, err := s.run(ctx, filepath.Dir(destPath), 2*networkTimeout, "clone", url, destPath)
	return err
}

// ParseOwnerRepo extracts owner and repo from a clone URL. Both https and
// ssh forms are handled; unknown shapes fall back to ("unknown", last path
// segment).
func ParseOwnerRepo(repositoryURL string) (string, string) {
	url := strings.TrimSuffix(repositoryURL, ".git")
	url = strings.TrimSuffix(url, "/")

	// ssh form: git@host:owner/repo
	if idx := strings.Index(url, ":"); idx >= 0 && strings.Contains(url[:idx], "@") && !strings.Contains(url[:idx], "/") {
		url = url[idx+1:]
	} else if idx := strings.Index(url, "://"); idx >= 0 {
		url = url[idx+3:]
		// Drop the host segment
		if slash := strings.Index(url, "/"); slash >= 0 {
			url = url[slash+1:]
		}
	}

	parts := strings.Split(url, "/")
	switch len(parts) {
	case 0:
		return "unknown", "unknown"
	case 1:
		return "unknown", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}
