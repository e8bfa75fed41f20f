package consent

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/consent"
	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
)

type Handler struct {
	service *consent.Service
}

func NewHandler(service *consent.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	consents := r.Group("/patients/:id/consents")
	{
		consents.GET("", h.List)
		consents.GET("/:scope/history", h.History)
		consents.PUT("/:scope", h.Set)
	}
}

type patientURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type patientScopeURI struct {
	ID    string `uri:"id" binding:"required,uuid"`
	Scope string `uri:"scope" binding:"required,consent_scope"`
}

func (h *Handler) List(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var params patientURI
	if err := c.ShouldBindUri(&params); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}
	patientID, err := uuid.Parse(params.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	snapshot, err := h.service.PatientSnapshot(c.Request.Context(), claims, patientID)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(snapshot))
}

func (h *Handler) History(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var params patientScopeURI
	if err := c.ShouldBindUri(&params); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID or consent scope"))
		return
	}
	patientID, err := uuid.Parse(params.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	records, err := h.service.History(c.Request.Context(), claims, patientID, model.ConsentScope(params.Scope))
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

type setConsentRequest struct {
	Status model.ConsentStatus `json:"status" binding:"required,consent_status"`
}

func (h *Handler) Set(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing principal"))
		return
	}

	var params patientScopeURI
	if err := c.ShouldBindUri(&params); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID or consent scope"))
		return
	}
	patientID, err := uuid.Parse(params.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	var req setConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	record, err := h.service.Set(c.Request.Context(), claims, patientID, model.ConsentScope(params.Scope), req.Status)
	if err != nil {
		status, resp := handler.ErrorStatus(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(record))
}
