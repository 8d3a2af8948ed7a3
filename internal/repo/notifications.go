package repo

import (
	"context"
	"database/sql"

	"ideahub/internal/domain"
)

const notificationCols = `id,recipient,subject,body,status,created_at,sent_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var (
		n      domain.Notification
		sentAt sql.NullString
	)
	err := scan(&n.ID, &n.To, &n.Subject, &n.Body, &n.Status, &n.CreatedAt, &sentAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.SentAt = strPtr(sentAt)
	return n, nil
}

func (r Repo) QueueNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,recipient,subject,body,status,created_at) VALUES (?,?,?,?,?,?)`,
		n.ID, n.To, n.Subject, n.Body, n.Status, n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

// ListNotifications returns rows in a status, oldest first; status "" means all.
func (r Repo) ListNotifications(ctx context.Context, status string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationCols + ` FROM notifications`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationSent(ctx context.Context, id, sentAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status=?, sent_at=? WHERE id=?`,
		domain.NotificationSent, sentAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkNotificationFailed(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status=? WHERE id=?`,
		domain.NotificationFailed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueFailedNotifications puts failed rows back to pending for redelivery.
func (r Repo) RequeueFailedNotifications(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status=? WHERE status=?`,
		domain.NotificationPending, domain.NotificationFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
