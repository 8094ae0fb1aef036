// Package sqlite provides SQLite-based repository implementations.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	commonsqlite "github.com/archonhq/archon/internal/common/sqlite"
)

// Repository provides SQLite-backed storage for all orchestrator records.
// It implements the store.ConversationStore, store.CodebaseStore,
// store.SessionStore, store.EnvironmentStore, and store.TemplateStore
// interfaces.
type Repository struct {
	db     *sqlx.DB
	ownsDB bool
}

// New opens (or creates) the SQLite database at path and initializes the schema.
func New(path string) (*Repository, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)
	return newRepository(db, true)
}

// NewWithDB creates a repository with an existing database connection (shared ownership).
func NewWithDB(db *sqlx.DB) (*Repository, error) {
	return newRepository(db, false)
}

func newRepository(db *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: db, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying sql.DB instance for shared access
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the database tables if they don't exist
func (r *Repository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			platform_type TEXT NOT NULL,
			platform_conversation_id TEXT NOT NULL,
			ai_assistant_type TEXT NOT NULL DEFAULT '',
			codebase_id TEXT,
			cwd TEXT,
			isolation_env_id TEXT,
			last_activity_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(platform_type, platform_conversation_id)
		)`,
		`CREATE TABLE IF NOT EXISTS codebases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			repository_url TEXT NOT NULL,
			default_cwd TEXT NOT NULL,
			ai_assistant_type TEXT NOT NULL DEFAULT '',
			commands TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS isolation_environments (
			id TEXT PRIMARY KEY,
			codebase_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT 'worktree',
			working_path TEXT NOT NULL,
			branch_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_by_platform TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			codebase_id TEXT NOT NULL DEFAULT '',
			ai_assistant_type TEXT NOT NULL DEFAULT '',
			assistant_session_id TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			metadata TEXT NOT NULL DEFAULT '{}',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_environments_identity
			ON isolation_environments(codebase_id, workflow_type, workflow_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_conversation
			ON sessions(conversation_id, active)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return r.migrateSchema()
}

// migrateSchema adds columns introduced after the initial schema to
// databases created before them. A no-op on fresh databases.
func (r *Repository) migrateSchema() error {
	migrations := []struct {
		table, column, definition string
	}{
		{"conversations", "isolation_env_id", "TEXT"},
		{"isolation_environments", "created_by_platform", "TEXT NOT NULL DEFAULT ''"},
		{"sessions", "metadata", "TEXT NOT NULL DEFAULT '{}'"},
	}
	for _, m := range migrations {
		if err := commonsqlite.EnsureColumn(r.db.DB, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("failed to migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}
