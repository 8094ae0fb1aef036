package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
)

// stubGit maps worktree paths to canonical repos without invoking git.
type stubGit struct {
	canonical map[string]string
}

func (s *stubGit) WorktreeExists(path string) bool { return true }

func (s *stubGit) ListWorktrees(ctx context.Context, repoPath string) ([]git.WorktreeInfo, error) {
	return nil, nil
}

func (s *stubGit) FindWorktreeByBranch(ctx context.Context, repoPath, branch string) (string, error) {
	return "", nil
}

func (s *stubGit) CreateWorktree(ctx context.Context, req git.CreateWorktreeRequest) (*git.WorktreeInfo, error) {
	return nil, nil
}

func (s *stubGit) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	return nil
}

func (s *stubGit) CanonicalRepoPath(path string) (string, error) {
	return s.canonical[path], nil
}

func (s *stubGit) IsWorktreePath(path string) bool {
	_, ok := s.canonical[path]
	return ok
}

func (s *stubGit) HasUncommittedChanges(ctx context.Context, path string) bool { return false }

func (s *stubGit) IsBranchMerged(ctx context.Context, repoPath, branch string) (bool, error) {
	return false, nil
}

func (s *stubGit) CommitAllChanges(ctx context.Context, path, message string) (bool, error) {
	return false, nil
}

func (s *stubGit) CloneRepository(ctx context.Context, url, destPath string) error { return nil }

func newTestSyncer(t *testing.T, canonical, worktree string) *Syncer {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return NewSyncer(&stubGit{canonical: map[string]string{worktree: canonical}}, log)
}

func writeMetadata(t *testing.T, repo string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(repo, ".archon", name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestSyncCopiesMetadataDirectory(t *testing.T) {
	canonical := t.TempDir()
	worktree := t.TempDir()
	writeMetadata(t, canonical, map[string]string{
		"workflows/fix.yaml": "name: fix\nsteps: []\n",
		"commands/plan.md":   "# Plan\n",
	})

	s := newTestSyncer(t, canonical, worktree)
	assert.True(t, s.Sync(worktree))

	data, err := os.ReadFile(filepath.Join(worktree, ".archon", "workflows", "fix.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: fix")
}

func TestSyncSkipsWhenWorktreeFresh(t *testing.T) {
	canonical := t.TempDir()
	worktree := t.TempDir()
	writeMetadata(t, canonical, map[string]string{"a.txt": "x"})

	s := newTestSyncer(t, canonical, worktree)
	require.True(t, s.Sync(worktree))

	// Second sync finds the worktree copy at least as new.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(worktree, ".archon"), future, future))
	assert.False(t, s.Sync(worktree))
}

func TestSyncNoMetadataDirectory(t *testing.T) {
	canonical := t.TempDir()
	worktree := t.TempDir()
	s := newTestSyncer(t, canonical, worktree)
	assert.False(t, s.Sync(worktree))
}

func TestSyncNotAWorktree(t *testing.T) {
	canonical := t.TempDir()
	writeMetadata(t, canonical, map[string]string{"a.txt": "x"})
	s := newTestSyncer(t, canonical, t.TempDir())
	// A path the git service does not recognize as a worktree.
	assert.False(t, s.Sync(t.TempDir()))
}

func TestSyncExtraCopyFilesWithRename(t *testing.T) {
	canonical := t.TempDir()
	worktree := t.TempDir()
	writeMetadata(t, canonical, map[string]string{
		"config.yaml": "worktree:\n  copyFiles:\n    - \".env.example -> .env\"\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(canonical, ".env.example"), []byte("KEY=1"), 0644))

	s := newTestSyncer(t, canonical, worktree)
	require.True(t, s.Sync(worktree))

	data, err := os.ReadFile(filepath.Join(worktree, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "KEY=1", string(data))
}

func TestSyncRejectsEscapingEntries(t *testing.T) {
	canonical := t.TempDir()
	worktree := t.TempDir()
	writeMetadata(t, canonical, map[string]string{
		"config.yaml": "worktree:\n  copyFiles:\n    - \"../outside.txt\"\n    - \"ok.txt -> ../escape.txt\"\n",
	})
	outside := filepath.Join(filepath.Dir(canonical), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(canonical, "ok.txt"), []byte("ok"), 0644))

	s := newTestSyncer(t, canonical, worktree)
	s.Sync(worktree)

	_, err := os.Stat(filepath.Join(worktree, "outside.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(filepath.Dir(worktree), "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSplitEntry(t *testing.T) {
	src, dst, ok := splitEntry(".archon")
	require.True(t, ok)
	assert.Equal(t, ".archon", src)
	assert.Equal(t, ".archon", dst)

	src, dst, ok = splitEntry("docs/a.md -> notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "docs/a.md", src)
	assert.Equal(t, "notes/a.md", dst)

	_, _, ok = splitEntry("../etc/passwd")
	assert.False(t, ok)
	_, _, ok = splitEntry("/absolute/path")
	assert.False(t, ok)
}
