package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"ideahub/internal/audit"
	"ideahub/internal/domain"
	"ideahub/internal/notify"
	"ideahub/internal/repo"
)

// RespondAssignment records a developer's accept or decline. The first accepted
// invitation moves the idea into implementation; developers racing for the same
// idea lose with a conflict, and the losing accept is rolled back.
func (e Engine) RespondAssignment(ctx context.Context, assignmentID, developerID, action string) (domain.Assignment, error) {
	var status string
	switch action {
	case "accept":
		status = domain.AssignmentAccepted
	case "decline":
		status = domain.AssignmentDeclined
	default:
		return domain.Assignment{}, invalidArgumentf("unknown response %q", action)
	}

	a, err := e.Repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Assignment{}, notFoundf("assignment %s", assignmentID)
		}
		return domain.Assignment{}, storeErr(err)
	}
	if a.DeveloperID != developerID {
		return domain.Assignment{}, forbiddenf("assignment %s belongs to another developer", assignmentID)
	}

	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	responded, err := e.Repo.RespondAssignmentTx(ctx, tx, assignmentID, status, now)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !responded {
		return domain.Assignment{}, invalidStatef("assignment %s is %s, not awaiting a response", assignmentID, a.Status)
	}

	if status == domain.AssignmentAccepted {
		moved, err := e.Repo.TransitionIdeaTx(ctx, tx, a.IdeaID, domain.StatusDeveloperAssignment, domain.StatusImplementation, now)
		if err != nil {
			return domain.Assignment{}, err
		}
		if !moved {
			return domain.Assignment{}, conflictf("idea %s already claimed", a.IdeaID)
		}
		// The idea may have been escalated between invite and accept.
		if _, err := e.Repo.DeleteMarketplaceTx(ctx, tx, a.IdeaID); err != nil {
			return domain.Assignment{}, err
		}
		if err := e.Audit.Append(ctx, tx, ideaRef(a.IdeaID), "status_changed", developerID, audit.Payload{
			"from": string(domain.StatusDeveloperAssignment),
			"to":   string(domain.StatusImplementation),
		}); err != nil {
			return domain.Assignment{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, assignmentRef(assignmentID), "assignment_responded", developerID, audit.Payload{
		"idea_id":  a.IdeaID,
		"response": status,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return e.Repo.GetAssignment(ctx, assignmentID)
}

// ClaimMarketplace lets any developer take an escalated idea off the
// marketplace. The claim removes the listing, records an accepted assignment,
// and starts implementation in one transaction.
func (e Engine) ClaimMarketplace(ctx context.Context, ideaID, developerID string) (domain.Assignment, error) {
	dev, err := e.Repo.GetUser(ctx, developerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Assignment{}, notFoundf("developer %s", developerID)
		}
		return domain.Assignment{}, storeErr(err)
	}
	if dev.Role != domain.RoleDeveloper && dev.Role != domain.RoleAdmin {
		return domain.Assignment{}, forbiddenf("user %s cannot claim marketplace ideas", developerID)
	}

	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	removed, err := e.Repo.DeleteMarketplaceTx(ctx, tx, ideaID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !removed {
		return domain.Assignment{}, notFoundf("idea %s is not listed on the marketplace", ideaID)
	}

	a := domain.Assignment{
		ID:          "asg-" + uuid.NewString(),
		IdeaID:      ideaID,
		DeveloperID: developerID,
		Status:      domain.AssignmentAccepted,
		InvitedAt:   now,
		RespondedAt: &now,
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Assignment{}, conflictf("developer %s already holds an assignment for idea %s", developerID, ideaID)
		}
		return domain.Assignment{}, err
	}
	moved, err := e.Repo.TransitionIdeaTx(ctx, tx, ideaID, domain.StatusDeveloperAssignment, domain.StatusImplementation, now)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !moved {
		return domain.Assignment{}, conflictf("idea %s already claimed", ideaID)
	}
	if err := e.Audit.Append(ctx, tx, assignmentRef(a.ID), "marketplace_claimed", developerID, audit.Payload{
		"idea_id": ideaID,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(ideaID), "status_changed", developerID, audit.Payload{
		"from": string(domain.StatusDeveloperAssignment),
		"to":   string(domain.StatusImplementation),
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// EscalateIdeaAssignments force-expires an idea's unanswered invitations and
// lists the idea on the marketplace. Safe to call repeatedly; the unique
// listing per idea makes the escalation idempotent.
func (e Engine) EscalateIdeaAssignments(ctx context.Context, ideaID, actorID string) error {
	idea, err := e.Repo.GetIdea(ctx, ideaID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return notFoundf("idea %s", ideaID)
		}
		return storeErr(err)
	}
	if idea.Status != domain.StatusDeveloperAssignment {
		return invalidStatef("idea %s is %s, not awaiting a developer", ideaID, idea.Status)
	}

	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	expired, err := e.Repo.MarkInvitedNoResponseTx(ctx, tx, ideaID, now)
	if err != nil {
		return err
	}
	if err := e.Repo.InsertMarketplaceTx(ctx, tx, domain.MarketplaceEntry{
		ID:       "mkt-" + uuid.NewString(),
		IdeaID:   ideaID,
		ListedAt: now,
	}); err != nil {
		if repo.IsUniqueViolation(err) {
			// Already listed by an earlier escalation.
			return nil
		}
		return err
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(ideaID), "assignment_escalated", actorID, audit.Payload{
		"expired_invitations": expired,
	}); err != nil {
		return err
	}
	subject, body := notify.AssignmentEscalated(idea)
	if err := e.notifyAdminsTx(ctx, tx, subject, body); err != nil {
		return err
	}
	return tx.Commit()
}

// notifyAdminsTx queues a message to every admin user.
func (e Engine) notifyAdminsTx(ctx context.Context, tx *sql.Tx, subject, body string) error {
	admins, err := e.Repo.ListUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, len(admins))
	for _, a := range admins {
		recipients = append(recipients, a.Email)
	}
	return e.Outbox.QueueAll(ctx, tx, recipients, subject, body)
}
