package repo

import (
	"context"
	"database/sql"
	"errors"

	"cutline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a compare-and-swap status update finds
// the row in a different state than expected.
var ErrStatusConflict = errors.New("project status changed concurrently")

const projectColumns = `id,user_id,title,status,edit_json,render_job_id,video_url,analysis_json,scheduled_at,created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Status, &p.EditJSON, &p.RenderJobID,
		&p.VideoURL, &p.AnalysisJSON, &p.ScheduledAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Title, p.Status, p.EditJSON, p.RenderJobID,
		p.VideoURL, p.AnalysisJSON, p.ScheduledAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetProjectStatusTx moves the status unconditionally; callers validate the
// transition first.
func (r Repo) SetProjectStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BeginRenderTx atomically flips a project from its prior status into
// rendering, storing the sanitized edit and clearing stale completion fields
// (video URL, analysis, provider job id). The WHERE clause on the prior
// status is the compare-and-swap that guards concurrent submissions.
func (r Repo) BeginRenderTx(ctx context.Context, tx *sql.Tx, id, fromStatus, editJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status='rendering', edit_json=?, video_url=NULL, analysis_json=NULL, render_job_id=NULL, updated_at=?
		 WHERE id=? AND status=?`,
		editJSON, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RollbackRenderTx restores the pre-submission status after a dispatch
// failure so the project is never stuck showing rendering with no job in
// flight.
func (r Repo) RollbackRenderTx(ctx context.Context, tx *sql.Tx, id, toStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status=?, updated_at=? WHERE id=? AND status='rendering'`,
		toStatus, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r Repo) SetProjectProviderJobTx(ctx context.Context, tx *sql.Tx, id, providerJobID, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET render_job_id=?, updated_at=? WHERE id=?`, providerJobID, updatedAt, id)
	return err
}

func (r Repo) SetProjectEditTx(ctx context.Context, tx *sql.Tx, id, editJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET edit_json=?, updated_at=? WHERE id=?`, editJSON, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRenderTx applies the terminal callback outcome to the project row:
// rendered with the output URL, or failed. Applying the same outcome twice
// leaves the row unchanged.
func (r Repo) FinishRenderTx(ctx context.Context, tx *sql.Tx, id, toStatus string, videoURL *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status=?, video_url=?, updated_at=? WHERE id=?`,
		toStatus, videoURL, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetProjectScheduleTx(ctx context.Context, tx *sql.Tx, id string, scheduledAt *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET scheduled_at=?, updated_at=? WHERE id=?`, scheduledAt, updatedAt, id)
	return err
}
