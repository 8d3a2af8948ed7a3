package sla_test

import (
	"context"
	"testing"
	"time"

	"ideahub/internal/config"
	"ideahub/internal/db"
	"ideahub/internal/domain"
	"ideahub/internal/engine"
	"ideahub/internal/migrate"
	"ideahub/internal/sla"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	Engine  engine.Engine
	Sweeper sla.Sweeper
	Clock   *clock
	Ctx     context.Context
	Author  domain.User
	Analyst domain.User
	Finance domain.User
	Admin   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ck := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = ck.now
	ctx := context.Background()
	f := &fixture{
		Engine:  eng,
		Sweeper: sla.Sweeper{Engine: eng},
		Clock:   ck,
		Ctx:     ctx,
	}
	f.Author = f.addUser(t, "author@example.com", domain.RoleUser)
	f.Analyst = f.addUser(t, "analyst@example.com", domain.RoleAnalyst)
	f.Finance = f.addUser(t, "finance@example.com", domain.RoleFinance)
	for _, email := range []string{"dev0@example.com", "dev1@example.com", "dev2@example.com"} {
		f.addUser(t, email, domain.RoleDeveloper)
	}
	f.Admin = f.addUser(t, "admin@example.com", domain.RoleAdmin)
	return f
}

func (f *fixture) addUser(t *testing.T, email, role string) domain.User {
	t.Helper()
	u, err := f.Engine.AddUser(f.Ctx, email, "", role, "")
	if err != nil {
		t.Fatalf("add user %s: %v", email, err)
	}
	return u
}

func (f *fixture) adminNotifications(t *testing.T) int {
	t.Helper()
	pending, err := f.Engine.Repo.ListNotifications(f.Ctx, domain.NotificationPending, 100)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	n := 0
	for _, msg := range pending {
		if msg.To == f.Admin.Email {
			n++
		}
	}
	return n
}

func TestOverdueReviewEscalatesOnce(t *testing.T) {
	f := newFixture(t)
	if _, err := f.Engine.SubmitIdea(f.Ctx, "slow idea", f.Author.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Within the deadline nothing happens.
	f.Clock.advance(4 * 24 * time.Hour)
	counts, err := f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts.AnalystOverdue != 0 {
		t.Fatalf("early sweep escalated: %+v", counts)
	}

	// Past the 5-day analyst deadline the review escalates, exactly once.
	f.Clock.advance(2 * 24 * time.Hour)
	counts, err = f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts.AnalystOverdue != 1 {
		t.Fatalf("counts = %+v, want one analyst escalation", counts)
	}
	if got := f.adminNotifications(t); got != 1 {
		t.Fatalf("admin notifications = %d, want 1", got)
	}

	counts, err = f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if counts.AnalystOverdue != 0 {
		t.Fatalf("second sweep re-escalated: %+v", counts)
	}
	if got := f.adminNotifications(t); got != 1 {
		t.Fatalf("admin notifications after second sweep = %d, want 1", got)
	}
}

func TestOverdueFinanceReviewEscalates(t *testing.T) {
	f := newFixture(t)
	idea, err := f.Engine.SubmitIdea(f.Ctx, "finance stalls", f.Author.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.Engine.DecideReview(f.Ctx, idea.ID, domain.StageAnalyst, domain.DecisionApproved, f.Analyst.ID, ""); err != nil {
		t.Fatalf("analyst approve: %v", err)
	}

	f.Clock.advance(6 * 24 * time.Hour)
	counts, err := f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts.FinanceOverdue != 1 {
		t.Fatalf("counts = %+v, want one finance escalation", counts)
	}
	// The analyst review was decided; it must not count.
	if counts.AnalystOverdue != 0 {
		t.Fatalf("decided analyst review escalated: %+v", counts)
	}
}

func TestUnansweredInvitesGoToMarketplace(t *testing.T) {
	f := newFixture(t)
	idea, err := f.Engine.SubmitIdea(f.Ctx, "ignored idea", f.Author.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.Engine.DecideReview(f.Ctx, idea.ID, domain.StageAnalyst, domain.DecisionApproved, f.Analyst.ID, ""); err != nil {
		t.Fatalf("analyst approve: %v", err)
	}
	if _, err := f.Engine.DecideReview(f.Ctx, idea.ID, domain.StageFinance, domain.DecisionApproved, f.Finance.ID, ""); err != nil {
		t.Fatalf("finance approve: %v", err)
	}

	f.Clock.advance(6 * 24 * time.Hour)
	counts, err := f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts.DeveloperOverdue != 1 {
		t.Fatalf("counts = %+v, want one developer escalation", counts)
	}

	assignments, _ := f.Engine.Repo.ListAssignmentsByIdea(f.Ctx, idea.ID)
	for _, a := range assignments {
		if a.Status != domain.AssignmentNoResponse {
			t.Fatalf("assignment %s status = %s, want no_response", a.ID, a.Status)
		}
	}
	entries, err := f.Engine.Repo.ListMarketplace(f.Ctx)
	if err != nil {
		t.Fatalf("list marketplace: %v", err)
	}
	if len(entries) != 1 || entries[0].IdeaID != idea.ID {
		t.Fatalf("marketplace = %+v", entries)
	}
	if got := f.adminNotifications(t); got != 1 {
		t.Fatalf("admin notifications = %d, want 1", got)
	}

	// Expired invitations never re-escalate.
	counts, err = f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if counts.DeveloperOverdue != 0 {
		t.Fatalf("second sweep re-escalated: %+v", counts)
	}
	if got := f.adminNotifications(t); got != 1 {
		t.Fatalf("admin notifications after second sweep = %d, want 1", got)
	}
}

func TestAcceptedAssignmentIsNotEscalated(t *testing.T) {
	f := newFixture(t)
	idea, err := f.Engine.SubmitIdea(f.Ctx, "claimed in time", f.Author.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.Engine.DecideReview(f.Ctx, idea.ID, domain.StageAnalyst, domain.DecisionApproved, f.Analyst.ID, ""); err != nil {
		t.Fatalf("analyst approve: %v", err)
	}
	if _, err := f.Engine.DecideReview(f.Ctx, idea.ID, domain.StageFinance, domain.DecisionApproved, f.Finance.ID, ""); err != nil {
		t.Fatalf("finance approve: %v", err)
	}
	assignments, _ := f.Engine.Repo.ListAssignmentsByIdea(f.Ctx, idea.ID)
	if _, err := f.Engine.RespondAssignment(f.Ctx, assignments[0].ID, assignments[0].DeveloperID, "accept"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	f.Clock.advance(6 * 24 * time.Hour)
	counts, err := f.Sweeper.Sweep(f.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts.DeveloperOverdue != 0 {
		t.Fatalf("accepted idea escalated: %+v", counts)
	}
	entries, _ := f.Engine.Repo.ListMarketplace(f.Ctx)
	if len(entries) != 0 {
		t.Fatalf("marketplace = %+v, want empty", entries)
	}
}
