// Package directory provides the executive-to-service assignment directory.
package directory

import (
	"leadflow_backend/internal/directory/handler"
	"leadflow_backend/internal/directory/repository"
	"leadflow_backend/internal/directory/service"
	"leadflow_backend/internal/executives"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the directory bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the directory module over the given repository.
func NewModule(repo repository.Repository, execs executives.Provider, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repo, execs, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "directory"
}

// Service returns the directory service used by the assignment engine.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts directory routes under /admin/directory.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/directory"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
