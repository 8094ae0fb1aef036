// Package webhook implements the GitHub-style event intake: issue and pull
// request events become orchestrator messages with isolation hints.
package webhook

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/isolation"
	"github.com/archonhq/archon/internal/orchestrator"
	"github.com/archonhq/archon/internal/platform"
	"github.com/archonhq/archon/internal/store"
)

// Payload is the inbound GitHub-style event body.
type Payload struct {
	Event      string   `json:"event"`  // "issues", "issue_comment", "pull_request", ...
	Action     string   `json:"action"` // "opened", "created", ...
	Repository string   `json:"repository" binding:"required"`
	Number     int      `json:"number" binding:"required"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Labels     []string `json:"labels"`
	Sender     string   `json:"sender"`
	PR         *PRInfo  `json:"pr,omitempty"`
}

// PRInfo is present on pull request events.
type PRInfo struct {
	Branch string `json:"branch"`
	Sha    string `json:"sha"`
	Fork   bool   `json:"fork"`
}

// linkedIssuePattern matches closing keywords in a PR body.
var linkedIssuePattern = regexp.MustCompile(`(?i)(?:close[sd]?|fix(?:es|ed)?|resolve[sd]?) #(\d+)`)

// Server exposes the webhook intake over gin.
type Server struct {
	orch         *orchestrator.Orchestrator
	adapter      platform.Adapter
	allowedUsers []string
	logger       *logger.Logger
}

func NewServer(orch *orchestrator.Orchestrator, adapter platform.Adapter, allowedUsers string, log *logger.Logger) *Server {
	return &Server{
		orch:         orch,
		adapter:      adapter,
		allowedUsers: platform.ParseGitHubAllowlist(allowedUsers),
		logger:       log.WithFields(zap.String("component", "webhook")),
	}
}

// Register mounts the webhook routes.
func (s *Server) Register(router *gin.Engine) {
	router.POST("/api/v1/webhook/github", s.handleGitHub)
}

// handleGitHub validates the sender, synthesizes the conversation identity
// and context block, and submits the message. The lock is non-blocking so
// the response is an immediate 202.
func (s *Server) handleGitHub(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	if !platform.GitHubUserAllowed(s.allowedUsers, payload.Sender) {
		s.logger.Warn("Rejected webhook from unauthorized sender",
			zap.String("sender", payload.Sender),
			zap.String("repository", payload.Repository))
		c.JSON(http.StatusForbidden, gin.H{"error": "sender not allowed"})
		return
	}

	conversationID := fmt.Sprintf("github:%s#%d", payload.Repository, payload.Number)
	text := payload.Body
	if strings.TrimSpace(text) == "" {
		text = payload.Title
	}

	s.orch.HandleMessage(s.adapter, conversationID, text, orchestrator.Options{
		IssueContext: buildContextBlock(&payload),
		Hints:        buildHints(&payload),
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "conversation_id": conversationID})
}

// buildContextBlock renders the marker block the router context extractor
// understands.
func buildContextBlock(p *Payload) string {
	var b strings.Builder
	if p.isPullRequest() {
		b.WriteString("[GitHub Pull Request Context]\n")
		fmt.Fprintf(&b, "PR #%d: %q\n", p.Number, p.Title)
	} else {
		b.WriteString("[GitHub Issue Context]\n")
		fmt.Fprintf(&b, "Issue #%d: %q\n", p.Number, p.Title)
	}
	if len(p.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(p.Labels, ", "))
	}
	if p.Body != "" {
		b.WriteString("\n")
		b.WriteString(p.Body)
	}
	return b.String()
}

func buildHints(p *Payload) *isolation.Hints {
	hints := &isolation.Hints{
		WorkflowType: store.WorkflowTypeIssue,
		WorkflowID:   strconv.Itoa(p.Number),
	}
	if p.isPullRequest() {
		hints.WorkflowType = store.WorkflowTypePR
		if p.PR != nil {
			hints.PRBranch = p.PR.Branch
			hints.PRSha = p.PR.Sha
			hints.IsForkPR = p.PR.Fork
		}
		for _, m := range linkedIssuePattern.FindAllStringSubmatch(p.Body, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil {
				hints.LinkedIssues = append(hints.LinkedIssues, n)
			}
		}
	}
	return hints
}

func (p *Payload) isPullRequest() bool {
	return p.PR != nil || strings.HasPrefix(p.Event, "pull_request")
}
