package repo

import (
	"context"
	"database/sql"

	"ideahub/internal/domain"
)

const reviewCols = `id,idea_id,stage,reviewer_id,decision,notes,created_at,decided_at`

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var (
		rv        domain.Review
		reviewer  sql.NullString
		decidedAt sql.NullString
	)
	err := scan(&rv.ID, &rv.IdeaID, &rv.Stage, &reviewer, &rv.Decision, &rv.Notes, &rv.CreatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	rv.ReviewerID = strPtr(reviewer)
	rv.DecidedAt = strPtr(decidedAt)
	return rv, nil
}

func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(id,idea_id,stage,reviewer_id,decision,notes,created_at,decided_at) VALUES (?,?,?,?,?,?,?,?)`,
		rv.ID, rv.IdeaID, rv.Stage, nullableStr(rv.ReviewerID), rv.Decision, rv.Notes, rv.CreatedAt, nullableStr(rv.DecidedAt))
	return err
}

// OpenReviewTx returns the open (undecided) review for an idea stage.
func (r Repo) OpenReviewTx(ctx context.Context, tx *sql.Tx, ideaID, stage string) (domain.Review, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reviewCols+` FROM reviews WHERE idea_id=? AND stage=? AND decision='' LIMIT 1`, ideaID, stage)
	return scanReview(row.Scan)
}

// DecideReviewTx closes an open review; false means the review was already
// decided by a concurrent caller.
func (r Repo) DecideReviewTx(ctx context.Context, tx *sql.Tx, reviewID, reviewerID, decision, notes, decidedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET reviewer_id=?, decision=?, notes=?, decided_at=? WHERE id=? AND decision=''`,
		reviewerID, decision, notes, decidedAt, reviewID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AnnotateReviewTx records reviewer and notes on a review that stays open
// (the needs_info loop).
func (r Repo) AnnotateReviewTx(ctx context.Context, tx *sql.Tx, reviewID, reviewerID, notes string) error {
	_, err := tx.ExecContext(ctx, `UPDATE reviews SET reviewer_id=?, notes=? WHERE id=? AND decision=''`,
		reviewerID, notes, reviewID)
	return err
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reviewCols+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

func (r Repo) ListReviewsByIdea(ctx context.Context, ideaID string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewCols+` FROM reviews WHERE idea_id=? ORDER BY created_at, id`, ideaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// OverdueOpenReviews selects open reviews created before the cutoff, the SLA
// sweep candidates for one stage.
func (r Repo) OverdueOpenReviews(ctx context.Context, stage, cutoff string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewCols+` FROM reviews WHERE stage=? AND decision='' AND created_at<? ORDER BY created_at, id`, stage, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}
