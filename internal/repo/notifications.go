package repo

import (
	"context"
	"database/sql"

	"cutline/internal/domain"
)

const notificationColumns = `id,user_id,project_id,job_id,kind,message,is_read,created_at`

func scanNotification(row interface{ Scan(...any) error }) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.ProjectID, &n.JobID, &n.Kind, &n.Message, &n.IsRead, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

// InsertNotificationTx writes a notification row. The unique index on
// (project_id, job_id, kind) makes redelivered callbacks a no-op; inserted
// reports whether a row was actually written.
func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) (inserted bool, err error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.ProjectID, n.JobID, n.Kind, n.Message, n.IsRead, n.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) ListProjectNotifications(ctx context.Context, projectID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
