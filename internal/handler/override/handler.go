package override

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/override"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type Handler struct {
	service *override.Service
}

func NewHandler(service *override.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	overrides := r.Group("/authz/overrides")
	{
		overrides.POST("", h.Request)
		overrides.GET("/:id", h.Get)
		overrides.POST("/:id/review", h.Review)
	}
}

type requestOverrideRequest struct {
	ResourceType  string    `json:"resource_type" binding:"required"`
	ResourceID    uuid.UUID `json:"resource_id" binding:"required"`
	Justification string    `json:"justification" binding:"required"`
}

func (h *Handler) Request(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var req requestOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	grant, err := h.service.Request(c.Request.Context(), claims, model.ResourceRef{
		Type: req.ResourceType,
		ID:   req.ResourceID,
	}, req.Justification)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(grant))
}

func (h *Handler) Get(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid grant ID"))
		return
	}

	grant, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}
	if grant.TenantID != claims.TenantID {
		// Same response as absent so grant IDs cannot be probed.
		status, resp := handler.ErrorStatus(apperrors.NotFound("override grant", nil))
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(grant))
}

type reviewRequest struct {
	Decision model.ReviewDecision `json:"decision" binding:"required"`
	Notes    string               `json:"notes"`
}

func (h *Handler) Review(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid grant ID"))
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	grant, err := h.service.Review(c.Request.Context(), id, claims, req.Decision, req.Notes)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(grant))
}
