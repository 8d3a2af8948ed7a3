package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ideahub/internal/domain"
	"ideahub/internal/repo"
)

// Outbox appends notifications inside the caller's transaction so a state
// transition and the message it owes commit together. Delivery happens later,
// at least once, via the Sender.
type Outbox struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (o Outbox) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Outbox) Queue(ctx context.Context, tx *sql.Tx, to, subject, body string) error {
	n := domain.Notification{
		ID:        "ntf-" + uuid.NewString(),
		To:        to,
		Subject:   subject,
		Body:      body,
		Status:    domain.NotificationPending,
		CreatedAt: o.now().UTC().Format(time.RFC3339),
	}
	return o.Repo.QueueNotificationTx(ctx, tx, n)
}

// QueueAll queues one message per recipient.
func (o Outbox) QueueAll(ctx context.Context, tx *sql.Tx, recipients []string, subject, body string) error {
	for _, to := range recipients {
		if err := o.Queue(ctx, tx, to, subject, body); err != nil {
			return err
		}
	}
	return nil
}
