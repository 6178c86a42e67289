package draftcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cutline/internal/db"
	"cutline/internal/logging"
	"cutline/internal/timeline"
)

// Cache persists in-progress edits locally, keyed by project. It lives in
// its own database file so a busy editor never contends with the main store.
// Saves are best-effort: a write failure is logged and swallowed, because
// losing one autosave must never interrupt editing.
type Cache struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	project_id TEXT PRIMARY KEY,
	edit_json  TEXT NOT NULL,
	saved_at   TEXT NOT NULL
);`

func Open(workspace string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = logging.Discard()
	}
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared", filepath.Join(dir, "drafts.db"))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init draft cache: %w", err)
	}
	return &Cache{db: conn, log: log, now: time.Now}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Save upserts the draft for a project. Errors are logged, never returned.
func (c *Cache) Save(ctx context.Context, projectID string, doc timeline.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		c.log.Error("draft save skipped", "project_id", projectID, "error", err)
		return
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO drafts (project_id, edit_json, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET edit_json = excluded.edit_json, saved_at = excluded.saved_at`,
		projectID, string(data), c.now().UTC().Format(time.RFC3339))
	if err != nil {
		c.log.Error("draft save failed", "project_id", projectID, "error", err)
	}
}

// Load returns the cached draft for a project, sanitized on the way out, and
// false when no draft exists.
func (c *Cache) Load(ctx context.Context, projectID string) (timeline.Document, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT edit_json FROM drafts WHERE project_id = ?`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return timeline.Document{}, false, nil
	}
	if err != nil {
		return timeline.Document{}, false, err
	}
	return timeline.Sanitize([]byte(raw)), true, nil
}

// Clear drops the cached draft, typically after the edit is persisted
// server-side.
func (c *Cache) Clear(ctx context.Context, projectID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM drafts WHERE project_id = ?`, projectID)
	return err
}
