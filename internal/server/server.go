package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"ideahub/internal/domain"
	"ideahub/internal/engine"
	"ideahub/internal/repo"
	"ideahub/internal/sla"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Sweeper  sla.Sweeper
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"idea is rejected, not awaiting analyst review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the IdeaHub API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("IdeaHub API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIdeas(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerMarketplace(group, cfg.Engine)
	registerSLA(group, cfg.Sweeper)
	if cfg.Auth.DevAuth {
		registerDevAuth(group, cfg.Auth)
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine error taxonomy to the HTTP envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, engine.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIdeas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-idea",
		Method:        http.MethodPost,
		Path:          "/ideas",
		Summary:       "Submit an idea",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitIdeaRequest `json:"body"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := e.SubmitIdea(ctx, input.Body.Text, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(idea)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ideas",
		Method:      http.MethodGet,
		Path:        "/ideas",
		Summary:     "List ideas",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Author string `query:"author"`
		Limit  int    `query:"limit"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body []IdeaResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIdeas(ctx, repo.IdeaFilter{
			Status:   domain.IdeaStatus(input.Status),
			AuthorID: input.Author,
			Limit:    input.Limit,
			Offset:   input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IdeaResponse `json:"body"`
		}{Body: mapIdeas(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-idea",
		Method:      http.MethodGet,
		Path:        "/ideas/{idea_id}",
		Summary:     "Get idea",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IdeaID string `path:"idea_id"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		idea, err := e.GetIdea(ctx, input.IdeaID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(idea)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "idea-history",
		Method:      http.MethodGet,
		Path:        "/ideas/{idea_id}/history",
		Summary:     "Idea audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IdeaID string `path:"idea_id"`
		Desc   bool   `query:"desc"`
	}) (*struct {
		Body []AuditEventResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetIdea(ctx, input.IdeaID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.History(ctx, domain.KindIdea, input.IdeaID, input.Desc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditEventResponse `json:"body"`
		}{Body: mapAuditEvents(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status-counts",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pipeline status counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.StatusCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decide-review",
		Method:      http.MethodPost,
		Path:        "/ideas/{idea_id}/reviews",
		Summary:     "Record a review decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IdeaID string              `path:"idea_id"`
		Body   DecideReviewRequest `json:"body"`
	}) (*struct {
		Body struct {
			IdeaID string `json:"idea_id"`
			Status string `json:"status"`
		} `json:"body"`
	}, error) {
		role := domain.RoleAnalyst
		if input.Body.Stage == domain.StageFinance {
			role = domain.RoleFinance
		}
		p, authErr := requireRole(ctx, role)
		if authErr != nil {
			return nil, authErr
		}
		status, err := e.DecideReview(ctx, input.IdeaID, input.Body.Stage, input.Body.Decision, p.ActorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				IdeaID string `json:"idea_id"`
				Status string `json:"status"`
			} `json:"body"`
		}{}
		out.Body.IdeaID = input.IdeaID
		out.Body.Status = string(status)
		return out, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "respond-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/respond",
		Summary:     "Accept or decline an invitation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AssignmentID string                   `path:"assignment_id"`
		Body         RespondAssignmentRequest `json:"body"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleDeveloper)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RespondAssignment(ctx, input.AssignmentID, p.ActorID, input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List the caller's assignments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleDeveloper)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAssignmentsByDeveloper(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AssignmentResponse, 0, len(items))
		for _, a := range items {
			out = append(out, assignmentResponse(a))
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMarketplace(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-marketplace",
		Method:      http.MethodGet,
		Path:        "/marketplace",
		Summary:     "List escalated ideas open for claiming",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []MarketplaceResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListMarketplace(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MarketplaceResponse `json:"body"`
		}{Body: mapMarketplace(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-marketplace",
		Method:      http.MethodPost,
		Path:        "/marketplace/{idea_id}/claim",
		Summary:     "Claim an escalated idea",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		IdeaID string `path:"idea_id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleDeveloper)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ClaimMarketplace(ctx, input.IdeaID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})
}

func registerSLA(api huma.API, s sla.Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sla-sweep",
		Method:      http.MethodPost,
		Path:        "/sla/run",
		Summary:     "Run one SLA escalation sweep",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sla.Counts `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := s.Sweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body sla.Counts `json:"body"`
		}{Body: counts}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev-token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role := input.Body.Role
		if role == "" {
			role = domain.RoleUser
		}
		token, err := signToken(authCfg.JWTSecret, actor, role, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token}}, nil
	})
}
