package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"invoice-harvester-go/internal/models"
)

// SchedulerControl is the part of *scheduler.Scheduler the API drives
type SchedulerControl interface {
	Start() error
	Stop() error
	IsRunning() bool
	Busy() bool
	RunOnce(ctx context.Context) (*models.RunSummary, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
	PendingContinuation() time.Time
	LastSummary() *models.RunSummary
}

// RunHistory lists persisted runs
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]models.RunLog, error)
}

// InvoiceLedger lists registered invoices
type InvoiceLedger interface {
	FindRecent(ctx context.Context, n int) ([]models.LedgerRow, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	scheduler SchedulerControl
	runs      RunHistory
	ledger    InvoiceLedger
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. gatherer defaults to the
// Prometheus default registry.
func NewHandlers(db *gorm.DB, s SchedulerControl, runs RunHistory, l InvoiceLedger, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{db: db, scheduler: s, runs: runs, ledger: l, gatherer: gatherer}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/runs", h.GetRuns)
		api.GET("/invoices", h.GetInvoices)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
