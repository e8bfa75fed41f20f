package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/authz"
	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type Handler struct {
	authzService *authz.Service
	auditService *audit.Service
}

func NewHandler(authzService *authz.Service, auditService *audit.Service) *Handler {
	return &Handler{
		authzService: authzService,
		auditService: auditService,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	events := r.Group("/audit")
	{
		events.GET("/events", h.ListEvents)
		events.GET("/verify", h.Verify)
	}
}

type listEventsResponse struct {
	Events []*model.AuditEvent `json:"events"`
	Total  int64               `json:"total"`
}

// ListEvents pages through the tenant's audit trail. Access runs through
// the same rule set as everything else and the query itself lands in the
// chain.
func (h *Handler) ListEvents(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var filters model.AuditFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid query parameters"))
		return
	}
	filters.Pagination = filters.Pagination.Normalize()

	events, total, err := h.authzService.QueryAudit(c.Request.Context(), claims, &filters)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(listEventsResponse{
		Events: events,
		Total:  total,
	}))
}

// Verify walks the tenant's full chain and reports the first broken link,
// if any. Reviewer roles only.
func (h *Handler) Verify(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}
	if claims.Role != model.RoleComplianceOfficer && claims.Role != model.RoleSuperAdmin {
		status, resp := handler.ErrorStatus(apperrors.AccessDenied("chain verification denied"))
		c.JSON(status, resp)
		return
	}

	result, err := h.auditService.Verify(c.Request.Context(), claims.TenantID)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
