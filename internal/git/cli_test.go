package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
)

func newTestService(t *testing.T) *CLIService {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return NewCLIService(t.TempDir(), log)
}

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
	}{
		{"https://github.com/acme/widgets.git", "acme", "widgets"},
		{"https://github.com/acme/widgets", "acme", "widgets"},
		{"git@github.com:acme/widgets.git", "acme", "widgets"},
		{"https://gitlab.example.com/group/sub/project.git", "sub", "project"},
		{"widgets", "unknown", "widgets"},
	}
	for _, tt := range tests {
		owner, repo := ParseOwnerRepo(tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /workspace/project
HEAD 1234567890abcdef
branch refs/heads/main

worktree /worktrees/acme/project/issue-42
HEAD fedcba0987654321
branch refs/heads/issue-42

worktree /worktrees/acme/project/detached
HEAD 1111111111111111
detached
`
	worktrees := parseWorktreeList(output)
	require.Len(t, worktrees, 3)
	assert.Equal(t, "/workspace/project", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "issue-42", worktrees[1].Branch)
	assert.Empty(t, worktrees[2].Branch)
}

func TestCanonicalFromGitdir(t *testing.T) {
	canonical, ok := canonicalFromGitdir("gitdir: /workspace/project/.git/worktrees/issue-42")
	require.True(t, ok)
	assert.Equal(t, "/workspace/project", canonical)

	_, ok = canonicalFromGitdir("gitdir: /workspace/project/.git")
	assert.False(t, ok)

	_, ok = canonicalFromGitdir("something else entirely")
	assert.False(t, ok)
}

func TestIsWorktreePath(t *testing.T) {
	svc := newTestService(t)

	// Linked worktree: .git is a file pointing back to the canonical repo
	worktree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"),
		[]byte("gitdir: /workspace/project/.git/worktrees/issue-42\n"), 0644))
	assert.True(t, svc.IsWorktreePath(worktree))

	// Canonical repo: .git is a directory
	repo := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0755))
	assert.False(t, svc.IsWorktreePath(repo))

	// Plain directory
	assert.False(t, svc.IsWorktreePath(t.TempDir()))
}

func TestCanonicalRepoPath(t *testing.T) {
	svc := newTestService(t)

	worktree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"),
		[]byte("gitdir: /workspace/project/.git/worktrees/issue-42\n"), 0644))
	canonical, err := svc.CanonicalRepoPath(worktree)
	require.NoError(t, err)
	assert.Equal(t, "/workspace/project", canonical)

	repo := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0755))
	canonical, err = svc.CanonicalRepoPath(repo)
	require.NoError(t, err)
	assert.Equal(t, repo, canonical)

	_, err = svc.CanonicalRepoPath(t.TempDir())
	assert.Error(t, err)
}

func TestHasUncommittedChangesMissingPath(t *testing.T) {
	svc := newTestService(t)
	// A missing path is the only case reported clean without asking git.
	assert.False(t, svc.HasUncommittedChanges(context.Background(), "/nonexistent/path/for/test"))
}

func TestWorktreeExists(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	assert.True(t, svc.WorktreeExists(dir))
	assert.False(t, svc.WorktreeExists(filepath.Join(dir, "missing")))
}
