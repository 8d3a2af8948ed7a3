package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ideahub/internal/domain"
)

// Log appends and reads audit events. Appends always happen inside the
// caller's transaction so a state change and its audit record commit together.
type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// ActionSLAEscalated gates the escalator: one event per entity, checked before acting.
const ActionSLAEscalated = "sla_escalated"

func (l Log) Append(ctx context.Context, tx *sql.Tx, entity domain.EntityRef, action, actorID string, payload Payload) error {
	ts := l.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events(entity_kind,entity_id,action,actor_id,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		string(entity.Kind), entity.ID, action, nullable(actorID), string(data), ts)
	return err
}

// HasTx reports whether an event was already recorded, read inside tx so the
// check participates in the transaction used as the idempotence gate.
func (l Log) HasTx(ctx context.Context, tx *sql.Tx, entity domain.EntityRef, action string) (bool, error) {
	return has(ctx, tx, entity, action)
}

// Has is the out-of-transaction variant for pre-filtering sweep candidates.
func (l Log) Has(ctx context.Context, entity domain.EntityRef, action string) (bool, error) {
	return has(ctx, l.DB, entity, action)
}

func has(ctx context.Context, q querier, entity domain.EntityRef, action string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM audit_events WHERE entity_kind=? AND entity_id=? AND action=? LIMIT 1`,
		string(entity.Kind), entity.ID, action).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// List returns the audit trail for one entity, oldest first unless desc.
func (l Log) List(ctx context.Context, entity domain.EntityRef, desc bool, limit int) ([]domain.AuditEvent, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	query := `SELECT id,entity_kind,entity_id,action,COALESCE(actor_id,''),payload_json,created_at FROM audit_events WHERE entity_kind=? AND entity_id=? ORDER BY id ` + order
	args := []any{string(entity.Kind), entity.ID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var (
			ev   domain.AuditEvent
			kind string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Entity.ID, &ev.Action, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Entity.Kind = domain.EntityKind(kind)
		res = append(res, ev)
	}
	return res, rows.Err()
}

// Tail returns the most recent events across all entities.
func (l Log) Tail(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.DB.QueryContext(ctx, `SELECT id,entity_kind,entity_id,action,COALESCE(actor_id,''),payload_json,created_at FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var (
			ev   domain.AuditEvent
			kind string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Entity.ID, &ev.Action, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Entity.Kind = domain.EntityKind(kind)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
