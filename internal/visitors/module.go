// Package visitors provides the visitor intake and pipeline bounded context.
// This file defines the module that wires the store, service and handlers.
package visitors

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/handler"
	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/internal/visitors/service"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the visitors bounded context module implementing http.Module.
type Module struct {
	handler       *handler.Handler
	publicHandler *handler.PublicHandler
	service       *service.Service
	store         repository.Store
}

// NewModule creates the visitors module over the given store.
func NewModule(store repository.Store, eventBus events.Bus, policy domain.UnqualifiedPolicy, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(store, eventBus, policy, log)
	return &Module{
		handler:       handler.New(svc, val),
		publicHandler: handler.NewPublicHandler(svc, val),
		service:       svc,
		store:         store,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "visitors"
}

// Service returns the visitor service for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// Store returns the visitor store shared with the assignment engine.
func (m *Module) Store() repository.Store {
	return m.store
}

// RegisterRoutes mounts visitor routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.Public.Group("/enquiries")
	if ctx.IntakeRateLimiter != nil {
		public.Use(ctx.IntakeRateLimiter.RateLimit())
	}
	m.publicHandler.RegisterRoutes(public)

	m.handler.RegisterRoutes(ctx.Protected.Group("/visitors"))
	ctx.Protected.GET("/pipeline/stages", m.handler.ListStages)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
