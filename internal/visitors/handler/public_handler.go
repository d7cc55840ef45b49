package handler

import (
	"net/http"

	"leadflow_backend/internal/visitors/service"
	"leadflow_backend/internal/visitors/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	publicMsgInvalidInput   = "Invalid input"
	publicMsgInvalidRequest = "Invalid request"
	chatbotActor            = "chatbot"
)

// PublicHandler accepts enquiries from the chatbot without authentication.
type PublicHandler struct {
	svc *service.Service
	val *validator.Validator
}

// NewPublicHandler creates the public intake handler.
func NewPublicHandler(svc *service.Service, val *validator.Validator) *PublicHandler {
	return &PublicHandler{svc: svc, val: val}
}

// RegisterRoutes registers intake routes under /public/enquiries.
func (h *PublicHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateEnquiry)
}

// CreateEnquiry creates a visitor at the first pipeline stage. The visitor
// stays unassigned until the next reconciliation pass.
// POST /api/v1/public/enquiries
func (h *PublicHandler) CreateEnquiry(c *gin.Context) {
	var req transport.CreateEnquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, publicMsgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(publicMsgInvalidInput).WithDetails(validator.FieldErrors(err)))
		return
	}

	visitor, err := h.svc.Create(c.Request.Context(), req, chatbotActor)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.EnquiryAcceptedResponse{
		ID:       visitor.ID,
		Category: visitor.Category,
		Status:   visitor.Status,
	})
}
