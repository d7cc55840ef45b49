// Package assignment provides the round-robin executive assignment context.
package assignment

import (
	"leadflow_backend/internal/assignment/handler"
	"leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/executives"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Module is the assignment bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the assignment module. The directory is usually the
// directory module's service.
func NewModule(store repository.Store, directory service.Directory, execs executives.Provider, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(store, directory, execs, eventBus, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "assignment"
}

// Service returns the assignment service driven by the scheduler.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the assign-now and override routes under /visitors.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	var trigger []gin.HandlerFunc
	if ctx.TriggerRateLimiter != nil {
		trigger = append(trigger, ctx.TriggerRateLimiter.RateLimit())
	}
	m.handler.RegisterRoutes(ctx.Protected.Group("/visitors"), trigger...)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
