package server

import (
	"encoding/json"

	"ideahub/internal/domain"
)

// Request payloads

type SubmitIdeaRequest struct {
	Text string `json:"text"`
}

type DecideReviewRequest struct {
	Stage    string `json:"stage" enum:"analyst,finance"`
	Decision string `json:"decision" enum:"approved,rejected,needs_info"`
	Notes    string `json:"notes,omitempty"`
}

type RespondAssignmentRequest struct {
	Action string `json:"action" enum:"accept,decline"`
}

type DevTokenRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"user,analyst,finance,developer,admin"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

// Response payloads

type IdeaResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	RawText            string   `json:"raw_text"`
	AuthorID           string   `json:"author_id"`
	Status             string   `json:"status"`
	SimilarityParentID *string  `json:"similarity_parent_id,omitempty"`
	SimilarityScore    *float64 `json:"similarity_score,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

func ideaResponse(i domain.Idea) IdeaResponse {
	return IdeaResponse{
		ID:                 i.ID,
		Title:              i.Title,
		RawText:            i.RawText,
		AuthorID:           i.AuthorID,
		Status:             string(i.Status),
		SimilarityParentID: i.SimilarityParentID,
		SimilarityScore:    i.SimilarityScore,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
	}
}

func mapIdeas(items []domain.Idea) []IdeaResponse {
	out := make([]IdeaResponse, 0, len(items))
	for _, i := range items {
		out = append(out, ideaResponse(i))
	}
	return out
}

type AssignmentResponse struct {
	ID          string  `json:"id"`
	IdeaID      string  `json:"idea_id"`
	DeveloperID string  `json:"developer_id"`
	Status      string  `json:"status"`
	InvitedAt   string  `json:"invited_at"`
	RespondedAt *string `json:"responded_at,omitempty"`
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:          a.ID,
		IdeaID:      a.IdeaID,
		DeveloperID: a.DeveloperID,
		Status:      a.Status,
		InvitedAt:   a.InvitedAt,
		RespondedAt: a.RespondedAt,
	}
}

type MarketplaceResponse struct {
	ID       string `json:"id"`
	IdeaID   string `json:"idea_id"`
	ListedAt string `json:"listed_at"`
	Notes    string `json:"notes,omitempty"`
}

func mapMarketplace(items []domain.MarketplaceEntry) []MarketplaceResponse {
	out := make([]MarketplaceResponse, 0, len(items))
	for _, m := range items {
		out = append(out, MarketplaceResponse{ID: m.ID, IdeaID: m.IdeaID, ListedAt: m.ListedAt, Notes: m.Notes})
	}
	return out
}

type AuditEventResponse struct {
	ID         int64           `json:"id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func mapAuditEvents(items []domain.AuditEvent) []AuditEventResponse {
	out := make([]AuditEventResponse, 0, len(items))
	for _, ev := range items {
		var payload json.RawMessage
		if ev.Payload != "" {
			payload = json.RawMessage(ev.Payload)
		}
		out = append(out, AuditEventResponse{
			ID:         ev.ID,
			EntityKind: string(ev.Entity.Kind),
			EntityID:   ev.Entity.ID,
			Action:     ev.Action,
			ActorID:    ev.ActorID,
			Payload:    payload,
			CreatedAt:  ev.CreatedAt,
		})
	}
	return out
}
