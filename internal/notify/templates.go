package notify

import (
	"fmt"

	"ideahub/internal/domain"
)

// Message templates for pipeline events. Plain text, addressed to the role
// that has to act next.

func AnalystReviewRequested(idea domain.Idea) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: new idea awaiting analyst review - %s", idea.Title)
	body = fmt.Sprintf(`A new idea has been submitted and requires analyst review.

Title: %s
Idea: %s

Submission:
%s

Please review within the analyst SLA window.`, idea.Title, idea.ID, idea.RawText)
	return subject, body
}

func FinanceReviewRequested(idea domain.Idea) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: idea awaiting finance review - %s", idea.Title)
	body = fmt.Sprintf(`An idea has passed analyst review and requires finance assessment.

Title: %s
Idea: %s

Submission:
%s

Please review within the finance SLA window.`, idea.Title, idea.ID, idea.RawText)
	return subject, body
}

func DeveloperInvitation(idea domain.Idea, developer domain.User) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: implementation invitation - %s", idea.Title)
	body = fmt.Sprintf(`Hello %s,

You have been invited to implement an approved idea.

Title: %s
Idea: %s

Submission:
%s

Accept or decline the invitation; unanswered invitations escalate to the open marketplace.`,
		developer.FullName, idea.Title, idea.ID, idea.RawText)
	return subject, body
}

func ReviewOverdue(review domain.Review) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: %s review overdue for idea %s", review.Stage, review.IdeaID)
	body = fmt.Sprintf(`The %s review %s for idea %s has passed its SLA deadline without a decision.

A reviewer still needs to act; no automatic decision was made.`, review.Stage, review.ID, review.IdeaID)
	return subject, body
}

func AssignmentEscalated(idea domain.Idea) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: developer invitations expired for idea %s", idea.ID)
	body = fmt.Sprintf(`No invited developer responded to idea %q within the SLA deadline.

All open invitations were marked no_response and the idea is now listed on the marketplace.`, idea.Title)
	return subject, body
}

func IdeaRejected(idea domain.Idea, stage, notes string) (subject, body string) {
	subject = fmt.Sprintf("IdeaHub: idea rejected at %s review - %s", stage, idea.Title)
	body = fmt.Sprintf(`Your idea %q was rejected during %s review.

Notes:
%s`, idea.Title, stage, notes)
	return subject, body
}
