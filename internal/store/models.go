// Package store defines the persistence models and repository interfaces
// for conversations, codebases, sessions, isolation environments, and
// prompt templates.
package store

import "time"

// Workflow types for isolation environments.
const (
	WorkflowTypeThread = "thread"
	WorkflowTypeIssue  = "issue"
	WorkflowTypePR     = "pr"
	WorkflowTypeReview = "review"
)

// Isolation environment statuses. Destruction is monotonic: once an
// environment is destroyed it never becomes active again.
const (
	EnvStatusActive    = "active"
	EnvStatusDestroyed = "destroyed"
)

// Isolation providers.
const (
	ProviderWorktree = "worktree"
)

// Conversation is a logical chat thread on one platform. Identity is the
// (PlatformType, PlatformConversationID) pair.
type Conversation struct {
	ID                     string     `db:"id" json:"id"`
	PlatformType           string     `db:"platform_type" json:"platform_type"`
	PlatformConversationID string     `db:"platform_conversation_id" json:"platform_conversation_id"`
	AssistantType          string     `db:"ai_assistant_type" json:"ai_assistant_type"`
	CodebaseID             *string    `db:"codebase_id" json:"codebase_id,omitempty"`
	Cwd                    *string    `db:"cwd" json:"cwd,omitempty"`
	IsolationEnvID         *string    `db:"isolation_env_id" json:"isolation_env_id,omitempty"`
	LastActivityAt         time.Time  `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// CommandSpec points at a per-codebase command markdown file.
type CommandSpec struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Codebase is a clonable repository already materialized under a canonical
// path. Read-only to the orchestrator core.
type Codebase struct {
	ID            string                 `db:"id" json:"id"`
	Name          string                 `db:"name" json:"name"`
	RepositoryURL string                 `db:"repository_url" json:"repository_url"`
	DefaultCwd    string                 `db:"default_cwd" json:"default_cwd"`
	AssistantType string                 `db:"ai_assistant_type" json:"ai_assistant_type"`
	Commands      map[string]CommandSpec `json:"commands,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// IsolationEnvironment is a database-tracked git worktree paired with a
// logical workflow identity.
type IsolationEnvironment struct {
	ID                string                 `db:"id" json:"id"`
	CodebaseID        string                 `db:"codebase_id" json:"codebase_id"`
	WorkflowType      string                 `db:"workflow_type" json:"workflow_type"`
	WorkflowID        string                 `db:"workflow_id" json:"workflow_id"`
	Provider          string                 `db:"provider" json:"provider"`
	WorkingPath       string                 `db:"working_path" json:"working_path"`
	BranchName        string                 `db:"branch_name" json:"branch_name"`
	Status            string                 `db:"status" json:"status"`
	CreatedByPlatform string                 `db:"created_by_platform" json:"created_by_platform"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `db:"created_at" json:"created_at"`
}

// Session is one assistant conversation turn sequence. At most one session
// per conversation is active at a time.
type Session struct {
	ID                 string            `db:"id" json:"id"`
	ConversationID     string            `db:"conversation_id" json:"conversation_id"`
	CodebaseID         string            `db:"codebase_id" json:"codebase_id"`
	AssistantType      string            `db:"ai_assistant_type" json:"ai_assistant_type"`
	AssistantSessionID *string           `db:"assistant_session_id" json:"assistant_session_id,omitempty"`
	Active             bool              `db:"active" json:"active"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	StartedAt          time.Time         `db:"started_at" json:"started_at"`
	EndedAt            *time.Time        `db:"ended_at" json:"ended_at,omitempty"`
}

// MetadataKeyLastCommand records the last command routed through a session.
const MetadataKeyLastCommand = "lastCommand"

// LastCommand returns the lastCommand metadata entry, or "".
func (s *Session) LastCommand() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataKeyLastCommand]
}

// Template is a global named prompt template (e.g. "router", "command").
type Template struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
