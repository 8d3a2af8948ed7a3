// Package sla watches the pipeline for items that overstayed their stage and
// escalates them. Reviews get a reminder to the admins; developer invitations
// left unanswered expire onto the marketplace.
package sla

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ideahub/internal/audit"
	"ideahub/internal/domain"
	"ideahub/internal/engine"
	"ideahub/internal/notify"
)

// Counts reports what one sweep escalated.
type Counts struct {
	AnalystOverdue   int `json:"analyst_overdue"`
	FinanceOverdue   int `json:"finance_overdue"`
	DeveloperOverdue int `json:"developer_overdue"`
}

type Sweeper struct {
	Engine engine.Engine
	Logger *slog.Logger
}

func (s Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Sweep runs one escalation pass. Each overdue item is handled independently;
// a failure on one item is logged and does not stop the sweep. Escalations are
// recorded in the audit log and never repeat for the same item.
func (s Sweeper) Sweep(ctx context.Context) (Counts, error) {
	var counts Counts
	now := time.Now()
	if s.Engine.Now != nil {
		now = s.Engine.Now()
	}
	now = now.UTC()

	n, err := s.sweepReviews(ctx, domain.StageAnalyst, s.cutoff(now, s.Engine.Config.SLA.AnalystDays))
	if err != nil {
		return counts, err
	}
	counts.AnalystOverdue = n

	n, err = s.sweepReviews(ctx, domain.StageFinance, s.cutoff(now, s.Engine.Config.SLA.FinanceDays))
	if err != nil {
		return counts, err
	}
	counts.FinanceOverdue = n

	n, err = s.sweepInvites(ctx, s.cutoff(now, s.Engine.Config.SLA.DeveloperDays))
	if err != nil {
		return counts, err
	}
	counts.DeveloperOverdue = n
	return counts, nil
}

func (s Sweeper) cutoff(now time.Time, days int) string {
	return now.AddDate(0, 0, -days).Format(time.RFC3339)
}

// sweepReviews escalates open reviews created before cutoff. The escalation is
// a reminder, not a forced decision: admins are notified once per review.
func (s Sweeper) sweepReviews(ctx context.Context, stage, cutoff string) (int, error) {
	reviews, err := s.Engine.Repo.OverdueOpenReviews(ctx, stage, cutoff)
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, rv := range reviews {
		ok, err := s.escalateReview(ctx, rv)
		if err != nil {
			s.logger().Error("review escalation failed", "review", rv.ID, "stage", stage, "error", err)
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

func (s Sweeper) escalateReview(ctx context.Context, rv domain.Review) (bool, error) {
	e := s.Engine
	entity := domain.EntityRef{Kind: domain.KindReview, ID: rv.ID}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	done, err := e.Audit.HasTx(ctx, tx, entity, audit.ActionSLAEscalated)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	if err := e.Audit.Append(ctx, tx, entity, audit.ActionSLAEscalated, "", audit.Payload{
		"idea_id": rv.IdeaID,
		"stage":   rv.Stage,
	}); err != nil {
		return false, err
	}
	admins, err := e.Repo.ListUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return false, err
	}
	subject, body := notify.ReviewOverdue(rv)
	for _, admin := range admins {
		if err := e.Outbox.Queue(ctx, tx, admin.Email, subject, body); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// sweepInvites escalates ideas whose invitations all aged past the cutoff
// without a response: invitations expire and the idea goes to the marketplace.
func (s Sweeper) sweepInvites(ctx context.Context, cutoff string) (int, error) {
	invites, err := s.Engine.Repo.OverdueInvites(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	seen := map[string]bool{}
	escalated := 0
	for _, inv := range invites {
		if seen[inv.IdeaID] {
			continue
		}
		seen[inv.IdeaID] = true
		if err := s.Engine.EscalateIdeaAssignments(ctx, inv.IdeaID, ""); err != nil {
			// Stale invites on an idea that already moved on are not overdue.
			if errors.Is(err, engine.ErrInvalidState) {
				continue
			}
			s.logger().Error("assignment escalation failed", "idea", inv.IdeaID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, nil
}

// Runner drives periodic sweeps until the context is cancelled.
type Runner struct {
	Sweeper  Sweeper
	Interval time.Duration
	Logger   *slog.Logger
}

func (r Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := r.Sweeper.Sweep(ctx)
			if err != nil {
				r.logger().Error("sla sweep failed", "error", err)
				continue
			}
			if counts.AnalystOverdue+counts.FinanceOverdue+counts.DeveloperOverdue > 0 {
				r.logger().Info("sla sweep escalated items",
					"analyst_reviews", counts.AnalystOverdue,
					"finance_reviews", counts.FinanceOverdue,
					"ideas", counts.DeveloperOverdue)
			}
		}
	}
}
