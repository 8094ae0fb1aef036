package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archonhq/archon/internal/store"
)

// Template operations

// UpsertTemplate creates or replaces a template by name
func (r *Repository) UpsertTemplate(ctx context.Context, template *store.Template) error {
	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, template.ID, template.Name, template.Content, template.CreatedAt, template.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// GetTemplateByName retrieves a template by its unique name
func (r *Repository) GetTemplateByName(ctx context.Context, name string) (*store.Template, error) {
	template := &store.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, content, created_at, updated_at FROM templates WHERE name = ?
	`, name).Scan(&template.ID, &template.Name, &template.Content, &template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return template, nil
}

// ListTemplates returns all templates ordered by name
func (r *Repository) ListTemplates(ctx context.Context) ([]*store.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, content, created_at, updated_at FROM templates ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*store.Template
	for rows.Next() {
		template := &store.Template{}
		if err := rows.Scan(&template.ID, &template.Name, &template.Content, &template.CreatedAt, &template.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, template)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteTemplate removes a template by name
func (r *Repository) DeleteTemplate(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
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
