package scheduler

import (
	apphttp "leadflow_backend/internal/http"

	"github.com/gin-gonic/gin"
)

// Module exposes the reconciler controls under /admin/scheduler.
type Module struct {
	handler *Handler
}

func NewModule(control Control) *Module {
	return &Module{handler: NewHandler(control)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "scheduler"
}

// RegisterRoutes mounts the admin routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	var trigger []gin.HandlerFunc
	if ctx.TriggerRateLimiter != nil {
		trigger = append(trigger, ctx.TriggerRateLimiter.RateLimit())
	}
	m.handler.RegisterRoutes(ctx.Admin.Group("/scheduler"), trigger...)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
