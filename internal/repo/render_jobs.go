package repo

import (
	"context"
	"database/sql"

	"cutline/internal/domain"
)

const jobColumns = `id,project_id,user_id,status,provider_id,payload_json,output_url,error_message,created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (domain.RenderJob, error) {
	var j domain.RenderJob
	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.Status, &j.ProviderID,
		&j.PayloadJSON, &j.OutputURL, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) InsertRenderJobTx(ctx context.Context, tx *sql.Tx, j domain.RenderJob) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO render_jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ProjectID, j.UserID, j.Status, j.ProviderID,
		j.PayloadJSON, j.OutputURL, j.ErrorMessage, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetRenderJob(ctx context.Context, id string) (domain.RenderJob, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id=?`, id))
}

// FindJobForCallback locates the job a callback refers to: by provider id
// when it matches, falling back to the project's most recent non-terminal
// job (providers occasionally echo an id the submitter never saw).
func (r Repo) FindJobForCallback(ctx context.Context, projectID, providerID string) (domain.RenderJob, error) {
	if providerID != "" {
		j, err := scanJob(r.DB.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM render_jobs WHERE project_id=? AND provider_id=? ORDER BY created_at DESC LIMIT 1`,
			projectID, providerID))
		if err == nil {
			return j, nil
		}
		if err != ErrNotFound {
			return j, err
		}
	}
	return scanJob(r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		projectID))
}

func (r Repo) ListRenderJobs(ctx context.Context, projectID string) ([]domain.RenderJob, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RenderJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) SetJobProviderTx(ctx context.Context, tx *sql.Tx, id, providerID, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE render_jobs SET provider_id=?, updated_at=? WHERE id=?`, providerID, updatedAt, id)
	return err
}

// FinishJobTx records the terminal outcome on the job row. The status filter
// keeps a late duplicate callback from overwriting a terminal state with a
// different one.
func (r Repo) FinishJobTx(ctx context.Context, tx *sql.Tx, id, toStatus string, outputURL, errorMessage *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE render_jobs SET status=?, output_url=?, error_message=?, updated_at=?
		 WHERE id=? AND status IN ('queued','rendering',?)`,
		toStatus, outputURL, errorMessage, updatedAt, id, toStatus)
	return err
}
