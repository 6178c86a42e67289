package repo

import (
	"context"
	"database/sql"

	"cutline/internal/domain"
)

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	var projectID, entityID sql.NullString
	err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload)
	if projectID.Valid {
		e.ProjectID = projectID.String
	}
	if entityID.Valid {
		e.EntityID = entityID.String
	}
	return e, err
}

// EventsAfter returns up to limit events with id greater than afterID,
// oldest first, optionally scoped to a project. Used by the webhook
// dispatcher's cursor loop and the events API.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, projectID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>?`
	args := []any{afterID}
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the newest event id, optionally scoped to a project;
// 0 when none exist.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}
