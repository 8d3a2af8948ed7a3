package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ideahub/internal/domain"
)

const ideaCols = `id,title,raw_text,author_id,status,similarity_parent_id,similarity_score,created_at,updated_at`

func scanIdea(scan func(dest ...any) error) (domain.Idea, error) {
	var (
		i      domain.Idea
		parent sql.NullString
		score  sql.NullFloat64
	)
	err := scan(&i.ID, &i.Title, &i.RawText, &i.AuthorID, &i.Status, &parent, &score, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.SimilarityParentID = strPtr(parent)
	if score.Valid {
		s := score.Float64
		i.SimilarityScore = &s
	}
	return i, nil
}

func (r Repo) InsertIdeaTx(ctx context.Context, tx *sql.Tx, i domain.Idea) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ideas(id,title,raw_text,author_id,status,similarity_parent_id,similarity_score,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Title, i.RawText, i.AuthorID, string(i.Status), nullableStr(i.SimilarityParentID), similarityScore(i.SimilarityScore), i.CreatedAt, i.UpdatedAt)
	return err
}

func similarityScore(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) GetIdea(ctx context.Context, id string) (domain.Idea, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ideaCols+` FROM ideas WHERE id=?`, id)
	return scanIdea(row.Scan)
}

func (r Repo) GetIdeaTx(ctx context.Context, tx *sql.Tx, id string) (domain.Idea, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+ideaCols+` FROM ideas WHERE id=?`, id)
	return scanIdea(row.Scan)
}

// TransitionIdeaTx moves an idea from one status to another with a conditional
// write; false means the precondition no longer held (optimistic loss).
func (r Repo) TransitionIdeaTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.IdeaStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE ideas SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkSimilarityTx classifies a new idea as duplicate or improvement, recording
// the parent link and score together with the status change.
func (r Repo) MarkSimilarityTx(ctx context.Context, tx *sql.Tx, id string, to domain.IdeaStatus, parentID string, score float64, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE ideas SET status=?, similarity_parent_id=?, similarity_score=?, updated_at=? WHERE id=? AND status=?`,
		string(to), parentID, score, updatedAt, id, string(domain.StatusNew))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type IdeaFilter struct {
	Status   domain.IdeaStatus
	AuthorID string
	Limit    int
	Offset   int
}

func (r Repo) ListIdeas(ctx context.Context, f IdeaFilter) ([]domain.Idea, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	query := `SELECT ` + ideaCols + ` FROM ideas WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		i, err := scanIdea(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// ListIdeasInStatusBefore selects sweep candidates: ideas stuck in a status
// since before the cutoff.
func (r Repo) ListIdeasInStatusBefore(ctx context.Context, status domain.IdeaStatus, cutoff string) ([]domain.Idea, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ideaCols+` FROM ideas WHERE status=? AND updated_at<? ORDER BY updated_at, id`, string(status), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		i, err := scanIdea(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func (r Repo) CountIdeasByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM ideas GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
