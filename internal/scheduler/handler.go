package scheduler

import (
	"errors"

	"leadflow_backend/internal/visitors/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	msgPassInProgress   = "an assignment pass is already running"
	msgAlreadyStarted   = "reconciler is already running"
	msgNotEmbedded      = "reconciler runs in the scheduler process; use run to enqueue a pass"
	msgStoreUnavailable = "visitor store unavailable; the next tick will retry"
)

// Handler serves the admin endpoints over a Control.
type Handler struct {
	control Control
}

func NewHandler(control Control) *Handler {
	return &Handler{control: control}
}

// RegisterRoutes mounts the routes. The optional middleware guards run.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, trigger ...gin.HandlerFunc) {
	rg.GET("/stats", h.Stats)
	rg.POST("/run", append(append([]gin.HandlerFunc{}, trigger...), h.Run)...)
	rg.POST("/start", h.Start)
	rg.POST("/stop", h.Stop)
}

// Stats returns reconciler counters.
// GET /api/v1/admin/scheduler/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.control.Stats()
	if httpkit.HandleError(c, mapControlError(err)) {
		return
	}
	httpkit.OK(c, stats)
}

// Run triggers a pass now.
// POST /api/v1/admin/scheduler/run
func (h *Handler) Run(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.control.Trigger(c.Request.Context(), identity.Actor())
	if httpkit.HandleError(c, mapControlError(err)) {
		return
	}
	httpkit.OK(c, result)
}

// Start launches the embedded timer loop.
// POST /api/v1/admin/scheduler/start
func (h *Handler) Start(c *gin.Context) {
	if httpkit.HandleError(c, mapControlError(h.control.Start())) {
		return
	}
	h.Stats(c)
}

// Stop halts the embedded timer loop.
// POST /api/v1/admin/scheduler/stop
func (h *Handler) Stop(c *gin.Context) {
	if httpkit.HandleError(c, mapControlError(h.control.Stop())) {
		return
	}
	h.Stats(c)
}

func mapControlError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPassInProgress):
		return apperr.Wrap(apperr.KindConflict, msgPassInProgress, err)
	case errors.Is(err, ErrAlreadyStarted):
		return apperr.Wrap(apperr.KindConflict, msgAlreadyStarted, err)
	case errors.Is(err, ErrNotEmbedded):
		return apperr.Wrap(apperr.KindConflict, msgNotEmbedded, err)
	case errors.Is(err, repository.ErrUnavailable):
		return apperr.Wrap(apperr.KindUnavailable, msgStoreUnavailable, err)
	default:
		return err
	}
}
