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

// Codebase operations

// CreateCodebase inserts a new codebase record
func (r *Repository) CreateCodebase(ctx context.Context, codebase *store.Codebase) error {
	if codebase.ID == "" {
		codebase.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	codebase.CreatedAt = now
	codebase.UpdatedAt = now

	commandsJSON, err := marshalCommands(codebase.Commands)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO codebases (id, name, repository_url, default_cwd, ai_assistant_type, commands, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, codebase.ID, codebase.Name, codebase.RepositoryURL, codebase.DefaultCwd, codebase.AssistantType, commandsJSON, codebase.CreatedAt, codebase.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create codebase: %w", err)
	}
	return nil
}

// GetCodebase retrieves a codebase by id
func (r *Repository) GetCodebase(ctx context.Context, id string) (*store.Codebase, error) {
	return r.scanCodebase(r.db.QueryRowContext(ctx, `
		SELECT id, name, repository_url, default_cwd, ai_assistant_type, commands, created_at, updated_at
		FROM codebases WHERE id = ?
	`, id))
}

// GetCodebaseByName retrieves a codebase by its unique name
func (r *Repository) GetCodebaseByName(ctx context.Context, name string) (*store.Codebase, error) {
	return r.scanCodebase(r.db.QueryRowContext(ctx, `
		SELECT id, name, repository_url, default_cwd, ai_assistant_type, commands, created_at, updated_at
		FROM codebases WHERE name = ?
	`, name))
}

// ListCodebases returns all codebases ordered by name
func (r *Repository) ListCodebases(ctx context.Context) ([]*store.Codebase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, repository_url, default_cwd, ai_assistant_type, commands, created_at, updated_at
		FROM codebases ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*store.Codebase
	for rows.Next() {
		codebase := &store.Codebase{}
		var commandsJSON string
		if err := rows.Scan(&codebase.ID, &codebase.Name, &codebase.RepositoryURL, &codebase.DefaultCwd,
			&codebase.AssistantType, &commandsJSON, &codebase.CreatedAt, &codebase.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalCommands(commandsJSON, codebase); err != nil {
			return nil, err
		}
		result = append(result, codebase)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateCodebase rewrites a codebase record
func (r *Repository) UpdateCodebase(ctx context.Context, codebase *store.Codebase) error {
	codebase.UpdatedAt = time.Now().UTC()

	commandsJSON, err := marshalCommands(codebase.Commands)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE codebases
		SET name = ?, repository_url = ?, default_cwd = ?, ai_assistant_type = ?, commands = ?, updated_at = ?
		WHERE id = ?
	`, codebase.Name, codebase.RepositoryURL, codebase.DefaultCwd, codebase.AssistantType, commandsJSON, codebase.UpdatedAt, codebase.ID)
	if err != nil {
		return fmt.Errorf("failed to update codebase: %w", err)
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

// DeleteCodebase removes a codebase record
func (r *Repository) DeleteCodebase(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM codebases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete codebase: %w", err)
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

func (r *Repository) scanCodebase(row *sql.Row) (*store.Codebase, error) {
	codebase := &store.Codebase{}
	var commandsJSON string
	err := row.Scan(&codebase.ID, &codebase.Name, &codebase.RepositoryURL, &codebase.DefaultCwd,
		&codebase.AssistantType, &commandsJSON, &codebase.CreatedAt, &codebase.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalCommands(commandsJSON, codebase); err != nil {
		return nil, err
	}
	return codebase, nil
}

func marshalCommands(commands map[string]store.CommandSpec) (string, error) {
	if commands == nil {
		return "{}", nil
	}
	data, err := json.Marshal(commands)
	if err != nil {
		return "", fmt.Errorf("failed to serialize codebase commands: %w", err)
	}
	return string(data), nil
}

func unmarshalCommands(commandsJSON string, codebase *store.Codebase) error {
	if commandsJSON == "" || commandsJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(commandsJSON), &codebase.Commands); err != nil {
		return fmt.Errorf("failed to deserialize codebase commands: %w", err)
	}
	return nil
}
