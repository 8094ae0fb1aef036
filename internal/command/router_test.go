package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/lock"
	"github.com/archonhq/archon/internal/store"
	"github.com/archonhq/archon/internal/store/sqlite"
)

// fakeGitService records calls without touching a real repository.
type fakeGitService struct {
	cloned      []string
	removed     []string
	cloneErr    error
	uncommitted bool
}

func (f *fakeGitService) WorktreeExists(path string) bool { return true }

func (f *fakeGitService) ListWorktrees(ctx context.Context, repoPath string) ([]git.WorktreeInfo, error) {
	return nil, nil
}

func (f *fakeGitService) FindWorktreeByBranch(ctx context.Context, repoPath, branch string) (string, error) {
	return "", nil
}

func (f *fakeGitService) CreateWorktree(ctx context.Context, req git.CreateWorktreeRequest) (*git.WorktreeInfo, error) {
	return &git.WorktreeInfo{Path: "/worktrees/fake", Branch: "fake"}, nil
}

func (f *fakeGitService) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	f.removed = append(f.removed, worktreePath)
	return nil
}

func (f *fakeGitService) CanonicalRepoPath(path string) (string, error) { return path, nil }

func (f *fakeGitService) IsWorktreePath(path string) bool { return false }

func (f *fakeGitService) HasUncommittedChanges(ctx context.Context, path string) bool {
	return f.uncommitted
}

func (f *fakeGitService) IsBranchMerged(ctx context.Context, repoPath, branch string) (bool, error) {
	return false, nil
}

func (f *fakeGitService) CommitAllChanges(ctx context.Context, path, message string) (bool, error) {
	return false, nil
}

func (f *fakeGitService) CloneRepository(ctx context.Context, url, destPath string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	f.cloned = append(f.cloned, url)
	return os.MkdirAll(destPath, 0755)
}

type fakeLister struct{ names []string }

func (f *fakeLister) WorkflowNames(cwd string) ([]string, error) { return f.names, nil }

type fakeCleaner struct{ removed int }

func (f *fakeCleaner) CleanupStale(ctx context.Context, codebase *store.Codebase) (int, error) {
	return f.removed, nil
}

type routerFixture struct {
	router *Router
	store  store.Store
	git    *fakeGitService
	conv   *store.Conversation
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "archon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	conv, err := repo.GetOrCreateConversation(context.Background(), "telegram", "chat-1", "claude-code")
	require.NoError(t, err)

	gitSvc := &fakeGitService{}
	router := NewRouter(Config{
		Store:         repo,
		Git:           gitSvc,
		Workflows:     &fakeLister{names: []string{"fix-and-test", "implement-issue"}},
		Cleaner:       &fakeCleaner{removed: 2},
		Stats:         func() lock.Stats { return lock.Stats{Active: 1, MaxConcurrent: 10} },
		ReposBasePath: t.TempDir(),
	}, log)

	return &routerFixture{router: router, store: repo, git: gitSvc, conv: conv}
}

func (f *routerFixture) reload(t *testing.T) {
	t.Helper()
	conv, err := f.store.GetConversation(context.Background(), f.conv.ID)
	require.NoError(t, err)
	f.conv = conv
}

func (f *routerFixture) attachCodebase(t *testing.T, cwd string) *store.Codebase {
	t.Helper()
	codebase := &store.Codebase{
		Name:          "widgets",
		RepositoryURL: "https://github.com/acme/widgets.git",
		DefaultCwd:    cwd,
		AssistantType: "claude-code",
	}
	require.NoError(t, f.store.CreateCodebase(context.Background(), codebase))
	require.NoError(t, f.store.UpdateConversation(context.Background(), f.conv.ID, store.ConversationUpdate{
		CodebaseID: &codebase.ID,
	}))
	f.reload(t)
	return codebase
}

func TestIsDeterministic(t *testing.T) {
	assert.True(t, IsDeterministic("help"))
	assert.True(t, IsDeterministic("worktree"))
	assert.False(t, IsDeterministic("command-invoke"))
	assert.False(t, IsDeterministic("plan-feature"))
}

func TestHandleHelp(t *testing.T) {
	f := newRouterFixture(t)
	result := f.router.Handle(context.Background(), f.conv, "/help")
	assert.Contains(t, result.Message, "/clone")
	assert.False(t, result.Modified)
}

func TestHandleSetcwd(t *testing.T) {
	f := newRouterFixture(t)
	dir := t.TempDir()

	result := f.router.Handle(context.Background(), f.conv, "/setcwd "+dir)
	assert.True(t, result.Modified)
	assert.Contains(t, result.Message, dir)

	f.reload(t)
	require.NotNil(t, f.conv.Cwd)
	assert.Equal(t, dir, *f.conv.Cwd)
}

func TestHandleSetcwdMissingDirectory(t *testing.T) {
	f := newRouterFixture(t)
	result := f.router.Handle(context.Background(), f.conv, "/setcwd /no/such/dir")
	assert.False(t, result.Modified)
	assert.Contains(t, result.Message, "Directory not found")
}

func TestHandleSetcwdEndsActiveSession(t *testing.T) {
	f := newRouterFixture(t)
	session := &store.Session{ConversationID: f.conv.ID, CodebaseID: "cb", AssistantType: "claude-code"}
	require.NoError(t, f.store.CreateSession(context.Background(), session))

	f.router.Handle(context.Background(), f.conv, "/setcwd "+t.TempDir())

	_, err := f.store.GetActiveSession(context.Background(), f.conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleClone(t *testing.T) {
	f := newRouterFixture(t)
	result := f.router.Handle(context.Background(), f.conv, "/clone https://github.com/acme/widgets.git")
	assert.True(t, result.Modified)
	assert.Contains(t, result.Message, "widgets")
	assert.Len(t, f.git.cloned, 1)

	codebase, err := f.store.GetCodebaseByName(context.Background(), "widgets")
	require.NoError(t, err)

	f.reload(t)
	require.NotNil(t, f.conv.CodebaseID)
	assert.Equal(t, codebase.ID, *f.conv.CodebaseID)
	require.NotNil(t, f.conv.Cwd)
	assert.Equal(t, codebase.DefaultCwd, *f.conv.Cwd)
}

func TestHandleCloneDuplicateName(t *testing.T) {
	f := newRouterFixture(t)
	f.attachCodebase(t, t.TempDir())

	result := f.router.Handle(context.Background(), f.conv, "/clone https://github.com/acme/widgets.git")
	assert.False(t, result.Modified)
	assert.Contains(t, result.Message, "already exists")
	assert.Empty(t, f.git.cloned)
}

func TestHandleRepoSwitchClearsIsolation(t *testing.T) {
	f := newRouterFixture(t)
	first := f.attachCodebase(t, t.TempDir())

	env := &store.IsolationEnvironment{
		CodebaseID:   first.ID,
		WorkflowType: store.WorkflowTypeIssue,
		WorkflowID:   "42",
		WorkingPath:  "/worktrees/acme/widgets/issue-42",
		BranchName:   "issue-42",
	}
	require.NoError(t, f.store.CreateEnvironment(context.Background(), env))
	require.NoError(t, f.store.UpdateConversation(context.Background(), f.conv.ID, store.ConversationUpdate{
		IsolationEnvID: &env.ID,
	}))
	f.reload(t)

	other := &store.Codebase{
		Name:          "gadgets",
		RepositoryURL: "https://github.com/acme/gadgets.git",
		DefaultCwd:    t.TempDir(),
		AssistantType: "claude-code",
	}
	require.NoError(t, f.store.CreateCodebase(context.Background(), other))

	result := f.router.Handle(context.Background(), f.conv, "/repo gadgets")
	assert.True(t, result.Modified)

	f.reload(t)
	require.NotNil(t, f.conv.CodebaseID)
	assert.Equal(t, other.ID, *f.conv.CodebaseID)
	assert.Nil(t, f.conv.IsolationEnvID)
}

func TestHandleRepoUnknown(t *testing.T) {
	f := newRouterFixture(t)
	result := f.router.Handle(context.Background(), f.conv, "/repo nothere")
	assert.False(t, result.Modified)
	assert.Contains(t, result.Message, "Unknown repository")
}

func TestHandleReset(t *testing.T) {
	f := newRouterFixture(t)
	session := &store.Session{ConversationID: f.conv.ID, CodebaseID: "cb", AssistantType: "claude-code"}
	require.NoError(t, f.store.CreateSession(context.Background(), session))

	result := f.router.Handle(context.Background(), f.conv, "/reset")
	assert.False(t, result.Modified)

	_, err := f.store.GetActiveSession(context.Background(), f.conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleResetContext(t *testing.T) {
	f := newRouterFixture(t)
	cwd := t.TempDir()
	f.router.Handle(context.Background(), f.conv, "/setcwd "+cwd)
	f.reload(t)

	result := f.router.Handle(context.Background(), f.conv, "/reset-context")
	assert.True(t, result.Modified)

	f.reload(t)
	assert.Nil(t, f.conv.Cwd)
	assert.Nil(t, f.conv.IsolationEnvID)
}

func TestHandleCommandSetAndList(t *testing.T) {
	f := newRouterFixture(t)
	f.attachCodebase(t, t.TempDir())

	result := f.router.Handle(context.Background(), f.conv, "/command-set plan-feature .archon/commands/plan.md Plan a feature")
	assert.Contains(t, result.Message, "plan-feature")

	listed := f.router.Handle(context.Background(), f.conv, "/commands")
	assert.Contains(t, listed.Message, "/plan-feature")
	assert.Contains(t, listed.Message, "Plan a feature")
}

func TestHandleLoadCommands(t *testing.T) {
	f := newRouterFixture(t)
	cwd := t.TempDir()
	f.attachCodebase(t, cwd)

	commandsDir := filepath.Join(cwd, ".archon", "commands")
	require.NoError(t, os.MkdirAll(commandsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(commandsDir, "plan-feature.md"),
		[]byte("# Plan a feature\n\nDetails."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(commandsDir, "notes.txt"),
		[]byte("ignored"), 0644))

	result := f.router.Handle(context.Background(), f.conv, "/load-commands")
	assert.Contains(t, result.Message, "Loaded 1 command(s)")

	codebase, err := f.store.GetCodebaseByName(context.Background(), "widgets")
	require.NoError(t, err)
	spec, ok := codebase.Commands["plan-feature"]
	require.True(t, ok)
	assert.Equal(t, "Plan a feature", spec.Description)
}

func TestHandleCommandsWithoutCodebase(t *testing.T) {
	f := newRouterFixture(t)
	result := f.router.Handle(context.Background(), f.conv, "/commands")
	assert.Contains(t, result.Message, "No codebase configured")
}

func TestHandleTemplates(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	added := f.router.Handle(ctx, f.conv, "/template-add triage Look at $ARGUMENTS and triage it")
	assert.Contains(t, added.Message, "triage")

	listed := f.router.Handle(ctx, f.conv, "/templates")
	assert.Contains(t, listed.Message, "triage")

	deleted := f.router.Handle(ctx, f.conv, "/template-delete triage")
	assert.Contains(t, deleted.Message, "deleted")

	listed = f.router.Handle(ctx, f.conv, "/template-list")
	assert.Contains(t, listed.Message, "No templates")
}

func TestHandleWorktreeList(t *testing.T) {
	f := newRouterFixture(t)
	codebase := f.attachCodebase(t, t.TempDir())

	env := &store.IsolationEnvironment{
		CodebaseID:   codebase.ID,
		WorkflowType: store.WorkflowTypeIssue,
		WorkflowID:   "42",
		WorkingPath:  "/worktrees/acme/widgets/issue-42",
		BranchName:   "issue-42",
	}
	require.NoError(t, f.store.CreateEnvironment(context.Background(), env))

	result := f.router.Handle(context.Background(), f.conv, "/worktree list")
	assert.Contains(t, result.Message, "issue-42")
}

func TestHandleWorktreeRemove(t *testing.T) {
	f := newRouterFixture(t)
	codebase := f.attachCodebase(t, t.TempDir())

	env := &store.IsolationEnvironment{
		CodebaseID:   codebase.ID,
		WorkflowType: store.WorkflowTypeIssue,
		WorkflowID:   "42",
		WorkingPath:  "/worktrees/acme/widgets/issue-42",
		BranchName:   "issue-42",
	}
	require.NoError(t, f.store.CreateEnvironment(context.Background(), env))
	require.NoError(t, f.store.UpdateConversation(context.Background(), f.conv.ID, store.ConversationUpdate{
		IsolationEnvID: &env.ID,
	}))
	f.reload(t)

	result := f.router.Handle(context.Background(), f.conv, "/worktree remove issue-42")
	assert.True(t, result.Modified)
	assert.Len(t, f.git.removed, 1)

	got, err := f.store.GetEnvironment(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvStatusDestroyed, got.Status)

	f.reload(t)
	assert.Nil(t, f.conv.IsolationEnvID)
}

func TestHandleWorktreeCleanupStale(t *testing.T) {
	f := newRouterFixture(t)
	f.attachCodebase(t, t.TempDir())

	result := f.router.Handle(context.Background(), f.conv, "/worktree cleanup stale")
	assert.Contains(t, result.Message, "Removed 2 stale worktree(s)")
}

func TestHandleWorkflow(t *testing.T) {
	f := newRouterFixture(t)
	f.attachCodebase(t, t.TempDir())

	result := f.router.Handle(context.Background(), f.conv, "/workflow")
	assert.Contains(t, result.Message, "fix-and-test")
	assert.Contains(t, result.Message, "implement-issue")
}

func TestHandleStatus(t *testing.T) {
	f := newRouterFixture(t)
	f.attachCodebase(t, t.TempDir())

	result := f.router.Handle(context.Background(), f.conv, "/status")
	assert.Contains(t, result.Message, "Platform: telegram")
	assert.Contains(t, result.Message, "Repository: widgets")
	assert.Contains(t, result.Message, "Session: none")
	assert.Contains(t, result.Message, "limit 10")
}
