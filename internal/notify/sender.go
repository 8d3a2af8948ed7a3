package notify

import (
	"context"
	"log/slog"
	"time"

	"ideahub/internal/domain"
	"ideahub/internal/repo"
)

// Mailer delivers a single notification. The SMTP transport lives outside
// this module; LogMailer ships for development.
type Mailer interface {
	Send(ctx context.Context, n domain.Notification) error
}

// LogMailer writes deliveries to the log instead of a wire.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, n domain.Notification) error {
	slog.Info("notification delivered", "to", n.To, "subject", n.Subject)
	return nil
}

// Sender drains pending notifications through a Mailer, at least once.
// A failed delivery marks the row failed; redelivery is explicit (requeue).
type Sender struct {
	Repo     repo.Repo
	Mailer   Mailer
	Interval time.Duration
	MaxBatch int
	Now      func() time.Time
}

func (s Sender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// DrainOnce delivers up to MaxBatch pending notifications, returning how many
// were sent. Per-item failures are recorded and do not stop the batch.
func (s Sender) DrainOnce(ctx context.Context) (int, error) {
	batch := s.MaxBatch
	if batch <= 0 {
		batch = 50
	}
	pending, err := s.Repo.ListNotifications(ctx, domain.NotificationPending, batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, n := range pending {
		if err := s.Mailer.Send(ctx, n); err != nil {
			slog.Error("notification delivery failed", "id", n.ID, "to", n.To, "err", err)
			if err := s.Repo.MarkNotificationFailed(ctx, n.ID); err != nil {
				slog.Error("mark notification failed", "id", n.ID, "err", err)
			}
			continue
		}
		if err := s.Repo.MarkNotificationSent(ctx, n.ID, s.now().UTC().Format(time.RFC3339)); err != nil {
			// The message went out but the row stays pending; the next
			// drain re-sends it. At-least-once is the contract.
			slog.Error("mark notification sent", "id", n.ID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run drains on a fixed interval until the context is canceled. The batch in
// progress finishes; no new batch starts after cancellation.
func (s Sender) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DrainOnce(ctx); err != nil {
				slog.Error("notification drain failed", "err", err)
			}
		}
	}
}
