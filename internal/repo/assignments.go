package repo

import (
	"context"
	"database/sql"

	"ideahub/internal/domain"
)

const assignmentCols = `id,idea_id,developer_id,status,invited_at,responded_at`

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var (
		a         domain.Assignment
		responded sql.NullString
	)
	err := scan(&a.ID, &a.IdeaID, &a.DeveloperID, &a.Status, &a.InvitedAt, &responded)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.RespondedAt = strPtr(responded)
	return a, nil
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id,idea_id,developer_id,status,invited_at,responded_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.IdeaID, a.DeveloperID, a.Status, a.InvitedAt, nullableStr(a.RespondedAt))
	return err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

// RespondAssignmentTx moves an invited assignment to accepted or declined;
// false means it was no longer invited.
func (r Repo) RespondAssignmentTx(ctx context.Context, tx *sql.Tx, id, status, respondedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status=?, responded_at=? WHERE id=? AND status=?`,
		status, respondedAt, id, domain.AssignmentInvited)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkInvitedNoResponseTx flips every still-invited assignment for an idea to
// no_response, returning how many rows changed.
func (r Repo) MarkInvitedNoResponseTx(ctx context.Context, tx *sql.Tx, ideaID, respondedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status=?, responded_at=? WHERE idea_id=? AND status=?`,
		domain.AssignmentNoResponse, respondedAt, ideaID, domain.AssignmentInvited)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListAssignmentsByIdea(ctx context.Context, ideaID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE idea_id=? ORDER BY invited_at, id`, ideaID)
}

func (r Repo) ListAssignmentsByDeveloper(ctx context.Context, developerID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE developer_id=? ORDER BY invited_at DESC, id`, developerID)
}

// OverdueInvites selects invited assignments older than the cutoff.
func (r Repo) OverdueInvites(ctx context.Context, cutoff string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE status=? AND invited_at<? ORDER BY invited_at, id`, domain.AssignmentInvited, cutoff)
}

func (r Repo) listAssignments(ctx context.Context, query string, args ...any) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
