package handler

import (
	"net/http"

	"leadflow_backend/internal/directory/service"
	"leadflow_backend/internal/directory/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler serves the admin directory endpoints.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// New creates a new directory handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts directory routes on an admin group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/assignments", h.List)
	rg.POST("/assignments", h.Assign)
	rg.DELETE("/assignments", h.Deactivate)
	rg.GET("/categories", h.Categories)
}

// List returns directory rows.
// GET /api/v1/admin/directory/assignments
func (h *Handler) List(c *gin.Context) {
	var req transport.ListAssignmentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(validator.FieldErrors(err)))
		return
	}

	result, err := h.svc.List(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Assign lets an executive receive a service category.
// POST /api/v1/admin/directory/assignments
func (h *Handler) Assign(c *gin.Context) {
	var req transport.AssignServiceRequest
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

	result, err := h.svc.Assign(c.Request.Context(), req.ExecutiveID, req.ServiceName, identity.Actor())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Deactivate removes a service category from an executive.
// DELETE /api/v1/admin/directory/assignments
func (h *Handler) Deactivate(c *gin.Context) {
	var req transport.DeactivateServiceRequest
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

	result, err := h.svc.Deactivate(c.Request.Context(), req.ExecutiveID, req.ServiceName, identity.Actor())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Categories lists the canonical categories.
// GET /api/v1/admin/directory/categories
func (h *Handler) Categories(c *gin.Context) {
	httpkit.OK(c, h.svc.Categories())
}
