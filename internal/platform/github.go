package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
)

const githubAPIBase = "https://api.github.com"

// GitHubAdapter delivers responses as issue or pull request comments.
// Conversation ids have the form "github:<owner>/<repo>#<number>".
type GitHubAdapter struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func NewGitHubAdapter(token string, log *logger.Logger) *GitHubAdapter {
	return &GitHubAdapter{
		token:   token,
		baseURL: githubAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithFields(zap.String("component", "github_adapter")),
	}
}

// SendMessage posts a comment on the issue or PR behind the conversation id.
func (g *GitHubAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	repo, number, err := parseConversationID(conversationID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", g.baseURL, repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post GitHub comment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GitHub comment rejected with status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func (g *GitHubAdapter) StreamingMode() string { return StreamingModeBatch }

func (g *GitHubAdapter) PlatformType() string { return TypeGitHub }

// EnsureThread is a no-op; GitHub threads are the issue/PR itself.
func (g *GitHubAdapter) EnsureThread(ctx context.Context, conversationID string, threadContext string) (string, error) {
	return conversationID, nil
}

// parseConversationID splits "github:<owner>/<repo>#<number>".
func parseConversationID(conversationID string) (string, int, error) {
	rest, ok := strings.CutPrefix(conversationID, "github:")
	if !ok {
		return "", 0, fmt.Errorf("not a github conversation id: %s", conversationID)
	}
	repo, numStr, ok := strings.Cut(rest, "#")
	if !ok || repo == "" {
		return "", 0, fmt.Errorf("malformed github conversation id: %s", conversationID)
	}
	number, err := strconv.Atoi(numStr)
	if err != nil {
		return "", 0, fmt.Errorf("malformed github conversation id: %s", conversationID)
	}
	return repo, number, nil
}
