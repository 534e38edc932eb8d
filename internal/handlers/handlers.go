// Package handlers exposes the HTTP surface: dispatch triggers,
// inbound webhooks, ledger inspection and scheduler control.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/reply"
	"outreach-dispatch-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	engine    *dispatch.Engine
	ledger    *ledger.Ledger
	router    *reply.Router
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
}

// NewHandlers creates new HTTP handlers. The scheduler may be nil when
// inbound polling is disabled.
func NewHandlers(db *gorm.DB, engine *dispatch.Engine, l *ledger.Ledger, router *reply.Router, sched *scheduler.Scheduler, m *metrics.Metrics) *Handlers {
	return &Handlers{
		db:        db,
		engine:    engine,
		ledger:    l,
		router:    router,
		scheduler: sched,
		metrics:   m,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/jobs", h.UpsertJob)

		api.POST("/dispatch", h.Dispatch)
		api.POST("/applications/:id/dispatch", h.DispatchApplication)

		api.POST("/inbound", h.Inbound)
		api.POST("/bounces", h.Bounce)

		api.GET("/records", h.GetRecords)
		api.GET("/records/:id", h.GetRecord)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
