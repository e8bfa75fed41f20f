package authz

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/authz"
	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type Handler struct {
	service *authz.Service
}

func NewHandler(service *authz.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/authz/evaluate", h.Evaluate)
}

type evaluateRequest struct {
	ResourceType string    `json:"resource_type" binding:"required"`
	ResourceID   uuid.UUID `json:"resource_id" binding:"required"`
	Action       string    `json:"action" binding:"required"`
}

type decisionResponse struct {
	DecisionID  uuid.UUID     `json:"decision_id,omitempty"`
	Verdict     model.Verdict `json:"verdict"`
	Reason      string        `json:"reason"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Evaluate returns the decision for one (principal, resource, action)
// triple. The response is always 200 with a verdict in the body; HTTP
// errors are reserved for requests that never reached evaluation.
func (h *Handler) Evaluate(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	decision, err := h.service.Evaluate(c.Request.Context(), claims, model.ResourceRef{
		Type: req.ResourceType,
		ID:   req.ResourceID,
	}, req.Action)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrAuditUnavailable) {
			// The decision could not be witnessed by the audit trail, so
			// the caller gets a denial regardless of what the rules said.
			c.JSON(http.StatusOK, handler.NewSuccessResponse(decisionResponse{
				Verdict:     model.VerdictDeny,
				Reason:      model.ReasonAuditUnavailable,
				EvaluatedAt: time.Now().UTC(),
			}))
			return
		}
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(decisionResponse{
		DecisionID:  decision.ID,
		Verdict:     decision.Verdict,
		Reason:      decision.PublicReason(),
		EvaluatedAt: decision.EvaluatedAt,
	}))
}
