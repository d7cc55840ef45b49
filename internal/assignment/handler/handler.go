package handler

import (
	"net/http"

	"leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/assignment/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the manual assignment endpoints.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid visitor id"
)

// New creates a new assignment handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts the routes on the visitors group. The optional
// middleware guards the "assign now" triggers.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, trigger ...gin.HandlerFunc) {
	rg.POST("/:id/assign", withMiddleware(trigger, h.AssignNext)...)
	rg.POST("/:id/assign-region", withMiddleware(trigger, h.AssignNextByRegion)...)
	rg.PUT("/:id/assignment", h.AssignManually)
}

func withMiddleware(middleware []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(middleware)+1)
	chain = append(chain, middleware...)
	return append(chain, handler)
}

// AssignNext routes one visitor to a service executive now.
// POST /api/v1/visitors/:id/assign
func (h *Handler) AssignNext(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if httpkit.MustGetIdentity(c) == nil {
		return
	}

	result, err := h.svc.AssignNext(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// AssignNextByRegion routes one visitor to a sales executive of its region.
// POST /api/v1/visitors/:id/assign-region
func (h *Handler) AssignNextByRegion(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if httpkit.MustGetIdentity(c) == nil {
		return
	}

	result, err := h.svc.AssignNextByRegion(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// AssignManually sets or clears an executive field.
// PUT /api/v1/visitors/:id/assignment
func (h *Handler) AssignManually(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.ManualAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(validator.FieldErrors(err)))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.svc.AssignManually(c.Request.Context(), service.ManualAssignmentInput{
		VisitorID:       id,
		Field:           req.Field,
		ExecutiveID:     req.ExecutiveID,
		Reason:          req.Reason,
		ChangedBy:       identity.Actor(),
		ExpectedVersion: req.ExpectedVersion,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
