package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archonhq/archon/internal/store"
)

// Conversation operations

// GetOrCreateConversation loads the conversation for the platform identity
// pair, creating it on first observed message.
func (r *Repository) GetOrCreateConversation(ctx context.Context, platformType, platformConversationID, assistantType string) (*store.Conversation, error) {
	conv, err := r.GetConversationByPlatform(ctx, platformType, platformConversationID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:                     uuid.New().String(),
		PlatformType:           platformType,
		PlatformConversationID: platformConversationID,
		AssistantType:          assistantType,
		LastActivityAt:         now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, platform_type, platform_conversation_id, ai_assistant_type, codebase_id, cwd, isolation_env_id, last_activity_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, NULL, NULL, ?, ?, ?)
	`, conv.ID, conv.PlatformType, conv.PlatformConversationID, conv.AssistantType, conv.LastActivityAt, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		// Concurrent creation loses the unique-constraint race; re-read.
		if existing, readErr := r.GetConversationByPlatform(ctx, platformType, platformConversationID); readErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by its synthetic id
func (r *Repository) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return r.scanConversation(r.db.QueryRowContext(ctx, `
		SELECT id, platform_type, platform_conversation_id, ai_assistant_type, codebase_id, cwd, isolation_env_id, last_activity_at, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id))
}

// GetConversationByPlatform retrieves a conversation by its platform identity pair
func (r *Repository) GetConversationByPlatform(ctx context.Context, platformType, platformConversationID string) (*store.Conversation, error) {
	return r.scanConversation(r.db.QueryRowContext(ctx, `
		SELECT id, platform_type, platform_conversation_id, ai_assistant_type, codebase_id, cwd, isolation_env_id, last_activity_at, created_at, updated_at
		FROM conversations WHERE platform_type = ? AND platform_conversation_id = ?
	`, platformType, platformConversationID))
}

func (r *Repository) scanConversation(row *sql.Row) (*store.Conversation, error) {
	conv := &store.Conversation{}
	var codebaseID, cwd, isolationEnvID sql.NullString
	err := row.Scan(&conv.ID, &conv.PlatformType, &conv.PlatformConversationID, &conv.AssistantType,
		&codebaseID, &cwd, &isolationEnvID, &conv.LastActivityAt, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if codebaseID.Valid {
		conv.CodebaseID = &codebaseID.String
	}
	if cwd.Valid {
		conv.Cwd = &cwd.String
	}
	if isolationEnvID.Valid {
		conv.IsolationEnvID = &isolationEnvID.String
	}
	return conv, nil
}

// UpdateConversation writes only the fields provided in the update. A
// pointer to the empty string clears a nullable column.
func (r *Repository) UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) error {
	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	nullable := func(column string, value *string) {
		if value == nil {
			return
		}
		if *value == "" {
			setClauses = append(setClauses, column+" = NULL")
			return
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, *value)
	}

	if upd.AssistantType != nil {
		setClauses = append(setClauses, "ai_assistant_type = ?")
		args = append(args, *upd.AssistantType)
	}
	nullable("codebase_id", upd.CodebaseID)
	nullable("cwd", upd.Cwd)
	nullable("isolation_env_id", upd.IsolationEnvID)
	if upd.LastActivityAt != nil {
		setClauses = append(setClauses, "last_activity_at = ?")
		args = append(args, *upd.LastActivityAt)
	}

	args = append(args, id)
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE conversations SET %s WHERE id = ?", strings.Join(setClauses, ", ")), args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
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
