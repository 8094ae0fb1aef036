package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ConversationUpdate is a dynamic field list for conversation updates.
// Only non-nil fields are written. For the nullable columns, a pointer to
// the empty string clears the column.
type ConversationUpdate struct {
	AssistantType  *string
	CodebaseID     *string
	Cwd            *string
	IsolationEnvID *string
	LastActivityAt *time.Time
}

// ConversationStore persists conversation records.
type ConversationStore interface {
	// GetOrCreateConversation loads the conversation for the platform
	// identity pair, creating it on first observed message.
	GetOrCreateConversation(ctx context.Context, platformType, platformConversationID, assistantType string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPlatform(ctx context.Context, platformType, platformConversationID string) (*Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) error
}

// CodebaseStore persists codebase records.
type CodebaseStore interface {
	CreateCodebase(ctx context.Context, codebase *Codebase) error
	GetCodebase(ctx context.Context, id string) (*Codebase, error)
	GetCodebaseByName(ctx context.Context, name string) (*Codebase, error)
	ListCodebases(ctx context.Context) ([]*Codebase, error)
	UpdateCodebase(ctx context.Context, codebase *Codebase) error
	DeleteCodebase(ctx context.Context, id string) error
}

// SessionStore persists assistant sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetActiveSession returns the single active session for a
	// conversation, or ErrNotFound.
	GetActiveSession(ctx context.Context, conversationID string) (*Session, error)
	DeactivateSession(ctx context.Context, id string) error
	DeactivateSessionsByConversation(ctx context.Context, conversationID string) error
	UpdateSessionToken(ctx context.Context, id, assistantSessionID string) error
	UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]string) error
}

// EnvironmentStore persists isolation environments.
type EnvironmentStore interface {
	CreateEnvironment(ctx context.Context, env *IsolationEnvironment) error
	GetEnvironment(ctx context.Context, id string) (*IsolationEnvironment, error)
	// FindActiveEnvironment looks up the single active environment for a
	// workflow identity, or ErrNotFound.
	FindActiveEnvironment(ctx context.Context, codebaseID, workflowType, workflowID string) (*IsolationEnvironment, error)
	ListActiveEnvironments(ctx context.Context, codebaseID string) ([]*IsolationEnvironment, error)
	CountActiveEnvironments(ctx context.Context, codebaseID string) (int, error)
	MarkEnvironmentDestroyed(ctx context.Context, id string) error
	UpdateEnvironmentMetadata(ctx context.Context, id string, metadata map[string]interface{}) error
	// EnvironmentLastActivity returns the most recent activity timestamp
	// of any conversation attached to the environment, falling back to
	// the environment's creation time.
	EnvironmentLastActivity(ctx context.Context, id string) (time.Time, error)
}

// TemplateStore persists global prompt templates.
type TemplateStore interface {
	UpsertTemplate(ctx context.Context, template *Template) error
	GetTemplateByName(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	DeleteTemplate(ctx context.Context, name string) error
}

// Store aggregates every repository interface. The SQLite repository
// implements all of them on a single type.
type Store interface {
	ConversationStore
	CodebaseStore
	SessionStore
	EnvironmentStore
	TemplateStore
}
