package repo

import (
	"context"
	"database/sql"

	"ideahub/internal/domain"
)

// InsertMarketplaceTx lists an idea. The unique index on idea_id is the
// idempotence and race gate: a second listing fails with a unique violation.
func (r Repo) InsertMarketplaceTx(ctx context.Context, tx *sql.Tx, m domain.MarketplaceEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO marketplace_entries(id,idea_id,listed_at,notes) VALUES (?,?,?,?)`,
		m.ID, m.IdeaID, m.ListedAt, m.Notes)
	return err
}

func scanMarketplace(scan func(dest ...any) error) (domain.MarketplaceEntry, error) {
	var m domain.MarketplaceEntry
	err := scan(&m.ID, &m.IdeaID, &m.ListedAt, &m.Notes)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) GetMarketplaceByIdea(ctx context.Context, ideaID string) (domain.MarketplaceEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,idea_id,listed_at,notes FROM marketplace_entries WHERE idea_id=?`, ideaID)
	return scanMarketplace(row.Scan)
}

func (r Repo) GetMarketplaceByIdeaTx(ctx context.Context, tx *sql.Tx, ideaID string) (domain.MarketplaceEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,idea_id,listed_at,notes FROM marketplace_entries WHERE idea_id=?`, ideaID)
	return scanMarketplace(row.Scan)
}

func (r Repo) ListMarketplace(ctx context.Context) ([]domain.MarketplaceEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,idea_id,listed_at,notes FROM marketplace_entries ORDER BY listed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MarketplaceEntry
	for rows.Next() {
		m, err := scanMarketplace(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// DeleteMarketplaceTx removes a listing; false means it was already gone.
func (r Repo) DeleteMarketplaceTx(ctx context.Context, tx *sql.Tx, ideaID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM marketplace_entries WHERE idea_id=?`, ideaID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
