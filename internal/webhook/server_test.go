package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/assistant"
	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/lock"
	"github.com/archonhq/archon/internal/orchestrator"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store"
	"github.com/archonhq/archon/internal/store/sqlite"
)

type webhookFixture struct {
	engine  *gin.Engine
	adapter *platform.MockAdapter
	store   store.Store
}

func newWebhookFixture(t *testing.T, allowedUsers string) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "archon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	orch := orchestrator.New(orchestrator.Config{
		Store:            repo,
		Lock:             lock.New(10, log),
		Clients:          map[string]assistant.Client{"mock": assistant.NewScriptedClient()},
		DefaultAssistant: "mock",
	}, log)

	adapter := platform.NewMockAdapter(platform.StreamingModeBatch)
	server := NewServer(orch, adapter, allowedUsers, log)

	engine := gin.New()
	server.Register(engine)
	return &webhookFixture{engine: engine, adapter: adapter, store: repo}
}

func (f *webhookFixture) post(t *testing.T, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	f := newWebhookFixture(t, "")
	rec := f.post(t, map[string]interface{}{"event": "issues"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejectsUnknownSender(t *testing.T) {
	f := newWebhookFixture(t, "alice,bob")
	rec := f.post(t, Payload{
		Event:      "issues",
		Repository: "acme/widgets",
		Number:     42,
		Title:      "Broken login",
		Sender:     "mallory",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookAllowlistIsCaseInsensitive(t *testing.T) {
	f := newWebhookFixture(t, "Alice")
	rec := f.post(t, Payload{
		Event:      "issues",
		Repository: "acme/widgets",
		Number:     42,
		Title:      "Broken login",
		Sender:     "ALICE",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookAcceptsAndDispatches(t *testing.T) {
	f := newWebhookFixture(t, "")
	rec := f.post(t, Payload{
		Event:      "issues",
		Repository: "acme/widgets",
		Number:     42,
		Title:      "Broken login",
		Body:       "Login fails with 500",
		Sender:     "alice",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "github:acme/widgets#42", resp["conversation_id"])

	// The handler runs asynchronously; the conversation has no codebase so
	// the orchestrator answers with the setup hint.
	waitFor(t, func() bool { return len(f.adapter.Texts()) > 0 })
	assert.Contains(t, f.adapter.Texts()[0], "No codebase configured")
}

func TestBuildContextBlockIssue(t *testing.T) {
	block := buildContextBlock(&Payload{
		Event:      "issues",
		Repository: "acme/widgets",
		Number:     42,
		Title:      "Broken login",
		Labels:     []string{"bug", "auth"},
		Body:       "Login fails",
	})
	assert.Contains(t, block, "[GitHub Issue Context]")
	assert.Contains(t, block, `Issue #42: "Broken login"`)
	assert.Contains(t, block, "Labels: bug, auth")
	assert.Contains(t, block, "Login fails")
}

func TestBuildContextBlockPullRequest(t *testing.T) {
	block := buildContextBlock(&Payload{
		Event:      "pull_request",
		Repository: "acme/widgets",
		Number:     7,
		Title:      "Add caching",
		PR:         &PRInfo{Branch: "feature/cache", Sha: "abc123"},
	})
	assert.Contains(t, block, "[GitHub Pull Request Context]")
	assert.Contains(t, block, `PR #7: "Add caching"`)
}

func TestBuildHintsForPullRequest(t *testing.T) {
	hints := buildHints(&Payload{
		Event:      "pull_request",
		Repository: "acme/widgets",
		Number:     7,
		Body:       "Fixes #12 and closes #34",
		PR:         &PRInfo{Branch: "feature/cache", Sha: "abc123", Fork: true},
	})
	assert.Equal(t, store.WorkflowTypePR, hints.WorkflowType)
	assert.Equal(t, "7", hints.WorkflowID)
	assert.Equal(t, "feature/cache", hints.PRBranch)
	assert.Equal(t, "abc123", hints.PRSha)
	assert.True(t, hints.IsForkPR)
	assert.Equal(t, []int{12, 34}, hints.LinkedIssues)
}

func TestBuildHintsForIssue(t *testing.T) {
	hints := buildHints(&Payload{Event: "issues", Repository: "acme/widgets", Number: 42})
	assert.Equal(t, store.WorkflowTypeIssue, hints.WorkflowType)
	assert.Equal(t, "42", hints.WorkflowID)
	assert.Empty(t, hints.LinkedIssues)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
