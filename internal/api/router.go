// Package api exposes jobs, runs and uploads over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
	"github.com/spigell/talent-screener/internal/workflow"
	"go.uber.org/zap"
)

// Workflow is the part of the orchestrator served over HTTP.
type Workflow interface {
	Start(ctx context.Context, jobID string, params model.SourcingParams) (string, error)
	Pause(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) error
	Cancel(ctx context.Context, runID string) error
	Status(ctx context.Context, runID string) (*model.WorkflowRun, error)
	History(ctx context.Context, jobID string) ([]model.WorkflowRun, error)
	Analyze(ctx context.Context, jobID string, r *model.Resume, reanalyze bool) (*workflow.AnalysisReport, error)
	Resync(ctx context.Context, jobID string) (*workflow.SyncReport, error)
	Statistics(ctx context.Context) (*workflow.Statistics, error)
}

type Options struct {
	// MaxUploadSize bounds multipart bodies. Zero means the document limit.
	MaxUploadSize int64
	Logger        *zap.Logger
}

type handler struct {
	workflow  Workflow
	store     store.Store
	maxUpload int64
	logger    *zap.Logger
}

// NewRouter returns the HTTP handler of the screener.
func NewRouter(wf Workflow, s store.Store, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &handler{
		workflow:  wf,
		store:     s,
		maxUpload: opts.MaxUploadSize,
		logger:    opts.Logger,
	}

	r := gin.New()
	r.Use(requestLogger(opts.Logger), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		jobs := api.Group("/jobs")
		jobs.POST("", h.createJob)
		jobs.GET("", h.listJobs)
		jobs.GET("/:id", h.getJob)
		jobs.GET("/:id/results", h.listResults)
		jobs.POST("/:id/runs", h.startRun)
		jobs.GET("/:id/runs", h.history)
		jobs.POST("/:id/sync", h.resync)
		jobs.POST("/:id/resumes", h.uploadResume)

		runs := api.Group("/runs")
		runs.GET("/:id", h.status)
		runs.POST("/:id/pause", h.pause)
		runs.POST("/:id/resume", h.resume)
		runs.POST("/:id/cancel", h.cancel)

		api.GET("/statistics", h.statistics)
	}

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request served", fields...)
	}
}
