package domain

// EntityKind tags the subject of polymorphic records (audit events, embeddings).
type EntityKind string

const (
	KindIdea       EntityKind = "idea"
	KindReview     EntityKind = "review"
	KindAssignment EntityKind = "assignment"
	KindUser       EntityKind = "user"
)

// EntityRef identifies one entity across the audit log and the embedding store.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

type IdeaStatus string

const (
	StatusNew                 IdeaStatus = "new"
	StatusAnalystReview       IdeaStatus = "analyst_review"
	StatusFinanceReview       IdeaStatus = "finance_review"
	StatusDeveloperAssignment IdeaStatus = "developer_assignment"
	StatusImplementation      IdeaStatus = "implementation"
	StatusCompleted           IdeaStatus = "completed"
	StatusRejected            IdeaStatus = "rejected"
	StatusDuplicate           IdeaStatus = "duplicate"
	StatusImprovement         IdeaStatus = "improvement"
)

// Terminal reports whether s accepts no further transitions.
func (s IdeaStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusDuplicate, StatusImprovement:
		return true
	}
	return false
}

const (
	RoleUser      = "user"
	RoleAnalyst   = "analyst"
	RoleFinance   = "finance"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name,omitempty"`
	Role       string `json:"role" enum:"user,analyst,finance,developer,admin"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Idea struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	RawText            string     `json:"raw_text"`
	AuthorID           string     `json:"author_id"`
	Status             IdeaStatus `json:"status" enum:"new,analyst_review,finance_review,developer_assignment,implementation,completed,rejected,duplicate,improvement"`
	SimilarityParentID *string    `json:"similarity_parent_id,omitempty"`
	SimilarityScore    *float64   `json:"similarity_score,omitempty"`
	CreatedAt          string     `json:"created_at" format:"date-time"`
	UpdatedAt          string     `json:"updated_at" format:"date-time"`
}

const (
	StageAnalyst = "analyst"
	StageFinance = "finance"
)

const (
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionNeedsInfo = "needs_info"
)

// Review is one human gate on an idea. Decision stays empty while the review is
// open; at most one open review exists per (idea, stage).
type Review struct {
	ID         string  `json:"id"`
	IdeaID     string  `json:"idea_id"`
	Stage      string  `json:"stage" enum:"analyst,finance"`
	ReviewerID *string `json:"reviewer_id,omitempty"`
	Decision   string  `json:"decision,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	DecidedAt  *string `json:"decided_at,omitempty" format:"date-time"`
}

const (
	AssignmentInvited    = "invited"
	AssignmentAccepted   = "accepted"
	AssignmentDeclined   = "declined"
	AssignmentNoResponse = "no_response"
	AssignmentEscalated  = "escalated"
)

type Assignment struct {
	ID          string  `json:"id"`
	IdeaID      string  `json:"idea_id"`
	DeveloperID string  `json:"developer_id"`
	Status      string  `json:"status" enum:"invited,accepted,declined,no_response,escalated"`
	InvitedAt   string  `json:"invited_at" format:"date-time"`
	RespondedAt *string `json:"responded_at,omitempty" format:"date-time"`
}

// MarketplaceEntry lists an idea for open claiming. At most one per idea,
// enforced by a unique index on idea_id.
type MarketplaceEntry struct {
	ID       string `json:"id"`
	IdeaID   string `json:"idea_id"`
	ListedAt string `json:"listed_at" format:"date-time"`
	Notes    string `json:"notes,omitempty"`
}

// Embedding is immutable once written; one per entity in the steady state.
type Embedding struct {
	ID        string    `json:"id"`
	Entity    EntityRef `json:"entity"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

type AuditEvent struct {
	ID        int64     `json:"id"`
	Entity    EntityRef `json:"entity"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id,omitempty"`
	Payload   string    `json:"payload_json"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

type Notification struct {
	ID        string  `json:"id"`
	To        string  `json:"to"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	Status    string  `json:"status" enum:"pending,sent,failed"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	SentAt    *string `json:"sent_at,omitempty" format:"date-time"`
}
