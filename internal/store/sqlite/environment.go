package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archonhq/archon/internal/store"
)

// Isolation environment operations

// CreateEnvironment inserts a new isolation environment
func (r *Repository) CreateEnvironment(ctx context.Context, env *store.IsolationEnvironment) error {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Provider == "" {
		env.Provider = store.ProviderWorktree
	}
	if env.Status == "" {
		env.Status = store.EnvStatusActive
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := marshalEnvMetadata(env.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO isolation_environments (id, codebase_id, workflow_type, workflow_id, provider, working_path, branch_name, status, created_by_platform, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, env.ID, env.CodebaseID, env.WorkflowType, env.WorkflowID, env.Provider, env.WorkingPath, env.BranchName, env.Status, env.CreatedByPlatform, metadataJSON, env.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create isolation environment: %w", err)
	}
	return nil
}

// GetEnvironment retrieves an isolation environment by id
func (r *Repository) GetEnvironment(ctx context.Context, id string) (*store.IsolationEnvironment, error) {
	return r.scanEnvironment(r.db.QueryRowContext(ctx, `
		SELECT id, codebase_id, workflow_type, workflow_id, provider, working_path, branch_name, status, created_by_platform, metadata, created_at
		FROM isolation_environments WHERE id = ?
	`, id))
}

// FindActiveEnvironment looks up the single active environment for a
// workflow identity, or store.ErrNotFound.
func (r *Repository) FindActiveEnvironment(ctx context.Context, codebaseID, workflowType, workflowID string) (*store.IsolationEnvironment, error) {
	return r.scanEnvironment(r.db.QueryRowContext(ctx, `
		SELECT id, codebase_id, workflow_type, workflow_id, provider, working_path, branch_name, status, created_by_platform, metadata, created_at
		FROM isolation_environments
		WHERE codebase_id = ? AND workflow_type = ? AND workflow_id = ? AND status = 'active'
		ORDER BY created_at DESC LIMIT 1
	`, codebaseID, workflowType, workflowID))
}

// ListActiveEnvironments returns all active environments for a codebase
func (r *Repository) ListActiveEnvironments(ctx context.Context, codebaseID string) ([]*store.IsolationEnvironment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, codebase_id, workflow_type, workflow_id, provider, working_path, branch_name, status, created_by_platform, metadata, created_at
		FROM isolation_environments
		WHERE codebase_id = ? AND status = 'active'
		ORDER BY created_at ASC
	`, codebaseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*store.IsolationEnvironment
	for rows.Next() {
		env := &store.IsolationEnvironment{}
		var metadataJSON string
		if err := rows.Scan(&env.ID, &env.CodebaseID, &env.WorkflowType, &env.WorkflowID, &env.Provider,
			&env.WorkingPath, &env.BranchName, &env.Status, &env.CreatedByPlatform, &metadataJSON, &env.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalEnvMetadata(metadataJSON, env); err != nil {
			return nil, err
		}
		result = append(result, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountActiveEnvironments counts active environments for a codebase
func (r *Repository) CountActiveEnvironments(ctx context.Context, codebaseID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM isolation_environments WHERE codebase_id = ? AND status = 'active'
	`, codebaseID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkEnvironmentDestroyed transitions an environment to destroyed.
// Destruction is monotonic; re-destroying is a no-op.
func (r *Repository) MarkEnvironmentDestroyed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE isolation_environments SET status = 'destroyed' WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to destroy isolation environment: %w", err)
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

// UpdateEnvironmentMetadata replaces the environment metadata map
func (r *Repository) UpdateEnvironmentMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	metadataJSON, err := marshalEnvMetadata(metadata)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE isolation_environments SET metadata = ? WHERE id = ?
	`, metadataJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update environment metadata: %w", err)
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

// EnvironmentLastActivity returns the most recent activity timestamp of
// any conversation attached to the environment, falling back to the
// environment's creation time.
func (r *Repository) EnvironmentLastActivity(ctx context.Context, id string) (time.Time, error) {
	var last time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(c.last_activity_at), e.created_at)
		FROM isolation_environments e
		LEFT JOIN conversations c ON c.isolation_env_id = e.id
		WHERE e.id = ?
		GROUP BY e.id
	`, id).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, store.ErrNotFound
		}
		return time.Time{}, err
	}
	return last, nil
}

func (r *Repository) scanEnvironment(row *sql.Row) (*store.IsolationEnvironment, error) {
	env := &store.IsolationEnvironment{}
	var metadataJSON string
	err := row.Scan(&env.ID, &env.CodebaseID, &env.WorkflowType, &env.WorkflowID, &env.Provider,
		&env.WorkingPath, &env.BranchName, &env.Status, &env.CreatedByPlatform, &metadataJSON, &env.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalEnvMetadata(metadataJSON, env); err != nil {
		return nil, err
	}
	return env, nil
}

func marshalEnvMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to serialize environment metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalEnvMetadata(metadataJSON string, env *store.IsolationEnvironment) error {
	if metadataJSON == "" || metadataJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(metadataJSON), &env.Metadata); err != nil {
		return fmt.Errorf("failed to deserialize environment metadata: %w", err)
	}
	return nil
}
