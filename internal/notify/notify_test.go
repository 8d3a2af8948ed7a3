package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ideahub/internal/db"
	"ideahub/internal/domain"
	"ideahub/internal/migrate"
	"ideahub/internal/notify"
	"ideahub/internal/repo"
)

type recordingMailer struct {
	sent    []domain.Notification
	failFor map[string]bool
}

func (m *recordingMailer) Send(_ context.Context, n domain.Notification) error {
	if m.failFor[n.To] {
		return errors.New("smtp refused")
	}
	m.sent = append(m.sent, n)
	return nil
}

func newOutbox(t *testing.T) (repo.Repo, notify.Outbox) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r, notify.Outbox{Repo: r, Now: now}
}

func queue(t *testing.T, r repo.Repo, o notify.Outbox, to, subject string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := o.Queue(ctx, tx, to, subject, "body"); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestQueueRollsBackWithTransaction(t *testing.T) {
	r, o := newOutbox(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := o.Queue(ctx, tx, "a@example.com", "subject", "body"); err != nil {
		t.Fatalf("queue: %v", err)
	}
	tx.Rollback()
	pending, err := r.ListNotifications(ctx, domain.NotificationPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rolled-back notification persisted: %+v", pending)
	}
}

func TestDrainOnceDeliversAndMarksSent(t *testing.T) {
	r, o := newOutbox(t)
	queue(t, r, o, "a@example.com", "first")
	queue(t, r, o, "b@example.com", "second")

	m := &recordingMailer{}
	s := notify.Sender{Repo: r, Mailer: m, MaxBatch: 10}
	sent, err := s.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 2 || len(m.sent) != 2 {
		t.Fatalf("sent = %d, delivered = %d", sent, len(m.sent))
	}
	pending, _ := r.ListNotifications(context.Background(), domain.NotificationPending, 10)
	if len(pending) != 0 {
		t.Fatalf("still pending: %+v", pending)
	}
	done, _ := r.ListNotifications(context.Background(), domain.NotificationSent, 10)
	for _, n := range done {
		if n.SentAt == nil {
			t.Fatalf("sent notification without sent_at: %+v", n)
		}
	}
}

func TestDrainOnceFailureDoesNotStopBatch(t *testing.T) {
	r, o := newOutbox(t)
	queue(t, r, o, "bad@example.com", "doomed")
	queue(t, r, o, "good@example.com", "fine")

	m := &recordingMailer{failFor: map[string]bool{"bad@example.com": true}}
	s := notify.Sender{Repo: r, Mailer: m, MaxBatch: 10}
	sent, err := s.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	failed, _ := r.ListNotifications(context.Background(), domain.NotificationFailed, 10)
	if len(failed) != 1 || failed[0].To != "bad@example.com" {
		t.Fatalf("failed = %+v", failed)
	}

	// Failed rows are retried only after an explicit requeue.
	if n, err := r.RequeueFailedNotifications(context.Background()); err != nil || n != 1 {
		t.Fatalf("requeue: %d, %v", n, err)
	}
	m.failFor = nil
	sent, err = s.DrainOnce(context.Background())
	if err != nil || sent != 1 {
		t.Fatalf("redrain: %d, %v", sent, err)
	}
}

func TestTemplatesCarrySubjectAndBody(t *testing.T) {
	idea := domain.Idea{ID: "idea-1", Title: "A grand plan", AuthorID: "usr-1"}
	dev := domain.User{ID: "usr-2", Email: "dev@example.com", FullName: "Dev One"}

	subject, body := notify.AnalystReviewRequested(idea)
	if subject == "" || body == "" {
		t.Fatal("analyst template empty")
	}
	subject, body = notify.DeveloperInvitation(idea, dev)
	if subject == "" || body == "" {
		t.Fatal("invitation template empty")
	}
	subject, body = notify.IdeaRejected(idea, domain.StageFinance, "over budget")
	if subject == "" || body == "" {
		t.Fatal("rejection template empty")
	}
}
