package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	commonsqlite "github.com/archonhq/archon/internal/common/sqlite"
	"github.com/archonhq/archon/internal/store"
)

// Session operations

// CreateSession inserts a new assistant session. The caller is responsible
// for deactivating any previously active session first.
func (r *Repository) CreateSession(ctx context.Context, session *store.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.Active = true

	metadataJSON, err := marshalSessionMetadata(session.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, conversation_id, codebase_id, ai_assistant_type, assistant_session_id, active, metadata, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, session.ID, session.ConversationID, session.CodebaseID, session.AssistantType, session.AssistantSessionID,
		commonsqlite.BoolToInt(session.Active), metadataJSON, session.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id
func (r *Repository) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, codebase_id, ai_assistant_type, assistant_session_id, active, metadata, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id))
}

// GetActiveSession returns the single active session for a conversation,
// or store.ErrNotFound.
func (r *Repository) GetActiveSession(ctx context.Context, conversationID string) (*store.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, codebase_id, ai_assistant_type, assistant_session_id, active, metadata, started_at, ended_at
		FROM sessions WHERE conversation_id = ? AND active = 1
		ORDER BY started_at DESC LIMIT 1
	`, conversationID))
}

// DeactivateSession marks a session inactive and stamps ended_at
func (r *Repository) DeactivateSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0, ended_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeactivateSessionsByConversation deactivates every active session of a
// conversation. A no-op when none are active.
func (r *Repository) DeactivateSessionsByConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0, ended_at = ? WHERE conversation_id = ? AND active = 1
	`, now, conversationID)
	if err != nil {
		return fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	return nil
}

// UpdateSessionToken persists the assistant-side resume token
func (r *Repository) UpdateSessionToken(ctx context.Context, id, assistantSessionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET assistant_session_id = ? WHERE id = ?
	`, assistantSessionID, id)
	if err != nil {
		return fmt.Errorf("failed to update session token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateSessionMetadata replaces the session metadata map
func (r *Repository) UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	metadataJSON, err := marshalSessionMetadata(metadata)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET metadata = ? WHERE id = ?
	`, metadataJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update session metadata: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) scanSession(row *sql.Row) (*store.Session, error) {
	session := &store.Session{}
	var assistantSessionID sql.NullString
	var active int
	var metadataJSON string
	var endedAt sql.NullTime
	err := row.Scan(&session.ID, &session.ConversationID, &session.CodebaseID, &session.AssistantType,
		&assistantSessionID, &active, &metadataJSON, &session.StartedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if assistantSessionID.Valid {
		session.AssistantSessionID = &assistantSessionID.String
	}
	session.Active = active == 1
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to deserialize session metadata: %w", err)
		}
	}
	return session, nil
}

func marshalSessionMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session metadata: %w", err)
	}
	return string(data), nil
}
