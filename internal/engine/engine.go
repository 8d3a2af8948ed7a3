package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideahub/internal/audit"
	"ideahub/internal/config"
	"ideahub/internal/dedup"
	"ideahub/internal/domain"
	"ideahub/internal/notify"
	"ideahub/internal/repo"
	"ideahub/internal/similarity"
)

// Engine owns the idea lifecycle. Every transition runs as one transaction:
// the status write, the notification it owes, and the audit record commit
// together or not at all.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Log
	Outbox   notify.Outbox
	Detector dedup.Detector
	Config   *config.Config
	Now      func() time.Time
}

// New wires an Engine. A nil embedder disables duplicate detection.
func New(db *sql.DB, cfg *config.Config, embedder similarity.Embedder) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Log{DB: db},
		Outbox: notify.Outbox{Repo: r},
		Detector: dedup.Detector{
			Index:    similarity.Index{DB: db},
			Embedder: embedder,
			Thresholds: dedup.Thresholds{
				Duplicate:     cfg.Dedup.DuplicateThreshold,
				Improvement:   cfg.Dedup.ImprovementThreshold,
				Floor:         cfg.Dedup.SimilarityFloor,
				MaxCandidates: cfg.Dedup.MaxNeighbors,
			},
		},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC() string {
	return e.now().UTC().Format(time.RFC3339)
}

// beginTx opens a write transaction. Failure here means the store itself is
// down, not a caller mistake.
func (e Engine) beginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailablef("storage: %v", err)
	}
	return tx, nil
}

// storeErr classifies unexpected read failures as storage unavailability.
// Sentinel repo errors pass through for callers to map.
func storeErr(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return unavailablef("storage: %v", err)
}

// ideaTitle derives a display title from raw submission text: the first 100
// characters, cut at a word boundary.
func ideaTitle(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")
	runes := []rune(title)
	if len(runes) <= 100 {
		return title
	}
	cut := string(runes[:100])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// SubmitIdea creates an idea, classifies it against existing submissions, and
// routes unique ideas into analyst review. The returned idea reflects the
// post-routing state.
func (e Engine) SubmitIdea(ctx context.Context, rawText, authorID string) (domain.Idea, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return domain.Idea{}, invalidArgumentf("idea text is required")
	}
	if _, err := e.Repo.GetUser(ctx, authorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Idea{}, notFoundf("author %s", authorID)
		}
		return domain.Idea{}, storeErr(err)
	}

	now := e.nowRFC()
	idea := domain.Idea{
		ID:        "idea-" + uuid.NewString(),
		Title:     ideaTitle(rawText),
		RawText:   rawText,
		AuthorID:  authorID,
		Status:    domain.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := e.beginTx(ctx)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIdeaTx(ctx, tx, idea); err != nil {
		return domain.Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(idea.ID), "idea_submitted", authorID, audit.Payload{"title": idea.Title}); err != nil {
		return domain.Idea{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Idea{}, err
	}

	return e.classifyAndRoute(ctx, idea)
}

// classifyAndRoute runs duplicate detection on a new idea and applies the
// resulting transition. Detection failure leaves the idea in new for manual
// routing; an absent backend routes straight to analyst review.
func (e Engine) classifyAndRoute(ctx context.Context, idea domain.Idea) (domain.Idea, error) {
	result, err := e.Detector.Classify(ctx, idea.ID, idea.RawText)
	if err != nil {
		// Detection backend configured but unavailable: stay in new,
		// record the degraded pass, surface nothing to the submitter.
		if auditErr := e.appendAudit(ctx, ideaRef(idea.ID), "dedup_unavailable", "", audit.Payload{"error": err.Error()}); auditErr != nil {
			return idea, auditErr
		}
		return idea, nil
	}

	switch result.Outcome {
	case dedup.Duplicate, dedup.Improvement:
		return e.markSimilar(ctx, idea, result)
	default:
		return e.routeToAnalyst(ctx, idea, result.Skipped)
	}
}

func (e Engine) markSimilar(ctx context.Context, idea domain.Idea, result dedup.Result) (domain.Idea, error) {
	to := domain.StatusImprovement
	if result.Outcome == dedup.Duplicate {
		to = domain.StatusDuplicate
	}
	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return idea, err
	}
	defer tx.Rollback()
	moved, err := e.Repo.MarkSimilarityTx(ctx, tx, idea.ID, to, result.ParentID, result.Score, now)
	if err != nil {
		return idea, err
	}
	if !moved {
		return idea, conflictf("idea %s left new while classifying", idea.ID)
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(idea.ID), "idea_classified", "", audit.Payload{
		"outcome":   string(result.Outcome),
		"parent_id": result.ParentID,
		"score":     result.Score,
	}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return e.Repo.GetIdea(ctx, idea.ID)
}

func (e Engine) routeToAnalyst(ctx context.Context, idea domain.Idea, skipped bool) (domain.Idea, error) {
	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return idea, err
	}
	defer tx.Rollback()
	moved, err := e.Repo.TransitionIdeaTx(ctx, tx, idea.ID, domain.StatusNew, domain.StatusAnalystReview, now)
	if err != nil {
		return idea, err
	}
	if !moved {
		return idea, conflictf("idea %s left new while routing", idea.ID)
	}
	if err := e.openReviewTx(ctx, tx, idea.ID, domain.StageAnalyst, now); err != nil {
		return idea, err
	}
	if err := e.notifyStageTx(ctx, tx, idea, domain.StageAnalyst); err != nil {
		return idea, err
	}
	if skipped {
		if err := e.Audit.Append(ctx, tx, ideaRef(idea.ID), "dedup_skipped", "", nil); err != nil {
			return idea, err
		}
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(idea.ID), "status_changed", "", audit.Payload{
		"from": string(domain.StatusNew),
		"to":   string(domain.StatusAnalystReview),
	}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return e.Repo.GetIdea(ctx, idea.ID)
}

// openReviewTx ensures an open review exists for (idea, stage), reusing one
// left over from a needs_info loop.
func (e Engine) openReviewTx(ctx context.Context, tx *sql.Tx, ideaID, stage, now string) error {
	_, err := e.Repo.OpenReviewTx(ctx, tx, ideaID, stage)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.Repo.InsertReviewTx(ctx, tx, domain.Review{
		ID:        "rev-" + uuid.NewString(),
		IdeaID:    ideaID,
		Stage:     stage,
		CreatedAt: now,
	})
}

// notifyStageTx queues the review-request message to the first user holding
// the stage's role, ascending by id so the pick is deterministic.
func (e Engine) notifyStageTx(ctx context.Context, tx *sql.Tx, idea domain.Idea, stage string) error {
	role := domain.RoleAnalyst
	if stage == domain.StageFinance {
		role = domain.RoleFinance
	}
	reviewers, err := e.Repo.ListUsersByRole(ctx, role)
	if err != nil {
		return err
	}
	if len(reviewers) == 0 {
		return nil
	}
	var subject, body string
	if stage == domain.StageFinance {
		subject, body = notify.FinanceReviewRequested(idea)
	} else {
		subject, body = notify.AnalystReviewRequested(idea)
	}
	return e.Outbox.Queue(ctx, tx, reviewers[0].Email, subject, body)
}

// DecideReview records a reviewer decision for the given stage and applies
// the resulting idea transition. needs_info annotates the open review and
// leaves the status untouched.
func (e Engine) DecideReview(ctx context.Context, ideaID, stage, decision, reviewerID, notes string) (domain.IdeaStatus, error) {
	if stage != domain.StageAnalyst && stage != domain.StageFinance {
		return "", invalidArgumentf("unknown review stage %q", stage)
	}
	switch decision {
	case domain.DecisionApproved, domain.DecisionRejected, domain.DecisionNeedsInfo:
	default:
		return "", invalidArgumentf("unknown review decision %q", decision)
	}
	idea, err := e.Repo.GetIdea(ctx, ideaID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", notFoundf("idea %s", ideaID)
		}
		return "", storeErr(err)
	}
	if _, err := e.Repo.GetUser(ctx, reviewerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", notFoundf("reviewer %s", reviewerID)
		}
		return "", storeErr(err)
	}

	want := domain.StatusAnalystReview
	if stage == domain.StageFinance {
		want = domain.StatusFinanceReview
	}
	if idea.Status != want {
		return "", invalidStatef("idea %s is %s, not awaiting %s review", ideaID, idea.Status, stage)
	}

	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	review, err := e.Repo.OpenReviewTx(ctx, tx, ideaID, stage)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		review = domain.Review{
			ID:        "rev-" + uuid.NewString(),
			IdeaID:    ideaID,
			Stage:     stage,
			CreatedAt: now,
		}
		if err := e.Repo.InsertReviewTx(ctx, tx, review); err != nil {
			return "", err
		}
	}

	if decision == domain.DecisionNeedsInfo {
		if err := e.Repo.AnnotateReviewTx(ctx, tx, review.ID, reviewerID, notes); err != nil {
			return "", err
		}
		if err := e.Audit.Append(ctx, tx, reviewRef(review.ID), "review_needs_info", reviewerID, audit.Payload{
			"idea_id": ideaID,
			"stage":   stage,
		}); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return idea.Status, nil
	}

	decided, err := e.Repo.DecideReviewTx(ctx, tx, review.ID, reviewerID, decision, notes, now)
	if err != nil {
		return "", err
	}
	if !decided {
		return "", conflictf("review %s already decided", review.ID)
	}

	var next domain.IdeaStatus
	if decision == domain.DecisionRejected {
		next = domain.StatusRejected
	} else if stage == domain.StageAnalyst {
		next = domain.StatusFinanceReview
	} else {
		next = domain.StatusDeveloperAssignment
	}

	moved, err := e.Repo.TransitionIdeaTx(ctx, tx, ideaID, want, next, now)
	if err != nil {
		return "", err
	}
	if !moved {
		return "", conflictf("idea %s changed while deciding %s review", ideaID, stage)
	}

	switch next {
	case domain.StatusFinanceReview:
		if err := e.openReviewTx(ctx, tx, ideaID, domain.StageFinance, now); err != nil {
			return "", err
		}
		if err := e.notifyStageTx(ctx, tx, idea, domain.StageFinance); err != nil {
			return "", err
		}
	case domain.StatusDeveloperAssignment:
		if err := e.inviteDevelopersTx(ctx, tx, idea, now); err != nil {
			return "", err
		}
	case domain.StatusRejected:
		if author, err := e.Repo.GetUser(ctx, idea.AuthorID); err == nil && author.Email != "" {
			subject, body := notify.IdeaRejected(idea, stage, notes)
			if err := e.Outbox.Queue(ctx, tx, author.Email, subject, body); err != nil {
				return "", err
			}
		}
	}

	if err := e.Audit.Append(ctx, tx, reviewRef(review.ID), "review_decided", reviewerID, audit.Payload{
		"idea_id":  ideaID,
		"stage":    stage,
		"decision": decision,
	}); err != nil {
		return "", err
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(ideaID), "status_changed", reviewerID, audit.Payload{
		"from": string(want),
		"to":   string(next),
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return next, nil
}

// inviteDevelopersTx fans out invitations to candidate developers: role
// developer, contact address present, ascending id, capped by config.
func (e Engine) inviteDevelopersTx(ctx context.Context, tx *sql.Tx, idea domain.Idea, now string) error {
	developers, err := e.Repo.ListUsersByRole(ctx, domain.RoleDeveloper)
	if err != nil {
		return err
	}
	fanout := e.Config.Assignments.InviteFanout
	if len(developers) > fanout {
		developers = developers[:fanout]
	}
	for _, dev := range developers {
		a := domain.Assignment{
			ID:          "asg-" + uuid.NewString(),
			IdeaID:      idea.ID,
			DeveloperID: dev.ID,
			Status:      domain.AssignmentInvited,
			InvitedAt:   now,
		}
		if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
			return fmt.Errorf("invite developer %s: %w", dev.ID, err)
		}
		subject, body := notify.DeveloperInvitation(idea, dev)
		if err := e.Outbox.Queue(ctx, tx, dev.Email, subject, body); err != nil {
			return err
		}
		if err := e.Audit.Append(ctx, tx, assignmentRef(a.ID), "developer_invited", "", audit.Payload{
			"idea_id":      idea.ID,
			"developer_id": dev.ID,
		}); err != nil {
			return err
		}
	}
	return e.Audit.Append(ctx, tx, ideaRef(idea.ID), "invitations_sent", "", audit.Payload{"count": len(developers)})
}

// CompleteIdea closes out an implemented idea.
func (e Engine) CompleteIdea(ctx context.Context, ideaID, actorID string) (domain.Idea, error) {
	idea, err := e.Repo.GetIdea(ctx, ideaID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Idea{}, notFoundf("idea %s", ideaID)
		}
		return domain.Idea{}, storeErr(err)
	}
	if idea.Status != domain.StatusImplementation {
		return domain.Idea{}, invalidStatef("idea %s is %s, not in implementation", ideaID, idea.Status)
	}
	now := e.nowRFC()
	tx, err := e.beginTx(ctx)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	moved, err := e.Repo.TransitionIdeaTx(ctx, tx, ideaID, domain.StatusImplementation, domain.StatusCompleted, now)
	if err != nil {
		return domain.Idea{}, err
	}
	if !moved {
		return domain.Idea{}, conflictf("idea %s changed while completing", ideaID)
	}
	if err := e.Audit.Append(ctx, tx, ideaRef(ideaID), "status_changed", actorID, audit.Payload{
		"from": string(domain.StatusImplementation),
		"to":   string(domain.StatusCompleted),
	}); err != nil {
		return domain.Idea{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Idea{}, err
	}
	return e.Repo.GetIdea(ctx, ideaID)
}

// GetIdea returns one idea.
func (e Engine) GetIdea(ctx context.Context, ideaID string) (domain.Idea, error) {
	idea, err := e.Repo.GetIdea(ctx, ideaID)
	if errors.Is(err, repo.ErrNotFound) {
		return idea, notFoundf("idea %s", ideaID)
	}
	return idea, storeErr(err)
}

// ListIdeas returns ideas matching the filter, newest first.
func (e Engine) ListIdeas(ctx context.Context, f repo.IdeaFilter) ([]domain.Idea, error) {
	return e.Repo.ListIdeas(ctx, f)
}

// StatusCounts returns the pipeline dashboard counts.
func (e Engine) StatusCounts(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountIdeasByStatus(ctx)
}

// History returns the audit trail for one entity.
func (e Engine) History(ctx context.Context, kind domain.EntityKind, id string, desc bool) ([]domain.AuditEvent, error) {
	switch kind {
	case domain.KindIdea, domain.KindReview, domain.KindAssignment, domain.KindUser:
	default:
		return nil, invalidArgumentf("unknown entity kind %q", kind)
	}
	return e.Audit.List(ctx, domain.EntityRef{Kind: kind, ID: id}, desc, 0)
}

// AddUser registers a user for reviewer/developer/admin selection.
func (e Engine) AddUser(ctx context.Context, email, fullName, role, department string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, invalidArgumentf("email is required")
	}
	switch role {
	case domain.RoleUser, domain.RoleAnalyst, domain.RoleFinance, domain.RoleDeveloper, domain.RoleAdmin:
	default:
		return domain.User{}, invalidArgumentf("unknown role %q", role)
	}
	u := domain.User{
		ID:         "usr-" + uuid.NewString(),
		Email:      email,
		FullName:   fullName,
		Role:       role,
		Department: department,
		CreatedAt:  e.nowRFC(),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.User{}, conflictf("user with email %s already exists", email)
		}
		return domain.User{}, err
	}
	return u, nil
}

// appendAudit writes a single audit event in its own transaction, for records
// that do not ride along with a state change.
func (e Engine) appendAudit(ctx context.Context, entity domain.EntityRef, action, actorID string, payload audit.Payload) error {
	tx, err := e.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Audit.Append(ctx, tx, entity, action, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func ideaRef(id string) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindIdea, ID: id}
}

func reviewRef(id string) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindReview, ID: id}
}

func assignmentRef(id string) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindAssignment, ID: id}
}
