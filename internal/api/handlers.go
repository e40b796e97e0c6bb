package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/resume"
	"github.com/spigell/talent-screener/internal/store"
	"github.com/spigell/talent-screener/internal/workflow"
	"go.uber.org/zap"
)

type CreateJobRequest struct {
	Title              string   `json:"title" binding:"required,max=200"`
	RequiredSkills     []string `json:"required_skills" binding:"required,min=1,dive,required"`
	PreferredSkills    []string `json:"preferred_skills" binding:"dive,required"`
	MinExperienceYears float64  `json:"min_experience_years" binding:"gte=0,lte=60"`
	Education          string   `json:"education"`
	Description        string   `json:"description"`
}

type StartRunRequest struct {
	Keywords   []string          `json:"keywords"`
	Filters    map[string]string `json:"filters"`
	MaxResults int               `json:"max_results" binding:"gte=0"`
	Reanalyze  bool              `json:"reanalyze"`
}

// respondError maps workflow and store errors to HTTP statuses.
func (h *handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrJobNotFound),
		errors.Is(err, workflow.ErrRunNotFound),
		errors.Is(err, store.ErrNotFound):
		failure(c, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, workflow.ErrRunAlreadyActive),
		errors.Is(err, workflow.ErrInvalidTransition):
		failure(c, http.StatusConflict, "conflict", err.Error())
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		failure(c, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (h *handler) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, "invalid request", validationMessages(err))
		return
	}

	job := &model.Job{
		Title:              strings.TrimSpace(req.Title),
		RequiredSkills:     req.RequiredSkills,
		PreferredSkills:    req.PreferredSkills,
		MinExperienceYears: req.MinExperienceYears,
		Education:          req.Education,
		Description:        req.Description,
	}
	if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "job created", job)
}

func (h *handler) listJobs(c *gin.Context) {
	jobs, err := h.store.ListJobs(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, "jobs", jobs)
}

func (h *handler) getJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, "job", job)
}

func (h *handler) listResults(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.store.GetJob(ctx, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	results, err := h.store.ListResults(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if results == nil {
		results = []model.AnalysisResult{}
	}
	success(c, http.StatusOK, "results", results)
}

func (h *handler) startRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			failure(c, http.StatusBadRequest, "invalid request", validationMessages(err))
			return
		}
	}

	id, err := h.workflow.Start(c.Request.Context(), c.Param("id"), model.SourcingParams{
		Keywords:   req.Keywords,
		Filters:    req.Filters,
		MaxResults: req.MaxResults,
		Reanalyze:  req.Reanalyze,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusAccepted, "run started", gin.H{"run_id": id})
}

func (h *handler) history(c *gin.Context) {
	runs, err := h.workflow.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []model.WorkflowRun{}
	}
	success(c, http.StatusOK, "runs", runs)
}

func (h *handler) status(c *gin.Context) {
	run, err := h.workflow.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, "run", run)
}

func (h *handler) pause(c *gin.Context) {
	h.transition(c, "run paused", h.workflow.Pause)
}

func (h *handler) resume(c *gin.Context) {
	h.transition(c, "run resumed", h.workflow.Resume)
}

func (h *handler) cancel(c *gin.Context) {
	h.transition(c, "run cancelled", h.workflow.Cancel)
}

func (h *handler) transition(c *gin.Context, message string, fn func(ctx context.Context, runID string) error) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if err := fn(ctx, runID); err != nil {
		h.respondError(c, err)
		return
	}
	run, err := h.workflow.Status(ctx, runID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, message, run)
}

func (h *handler) resync(c *gin.Context) {
	report, err := h.workflow.Resync(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, "results synced", report)
}

func (h *handler) uploadResume(c *gin.Context) {
	limit := h.maxUpload
	if limit <= 0 || limit > resume.MaxDocumentSize {
		limit = resume.MaxDocumentSize
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		failure(c, http.StatusBadRequest, "invalid request", "file: "+err.Error())
		return
	}
	if header.Size > limit {
		failure(c, http.StatusRequestEntityTooLarge, "document too large", header.Filename)
		return
	}
	if !resume.Supported(header.Filename) {
		failure(c, http.StatusBadRequest, "unsupported document type", header.Filename)
		return
	}

	f, err := header.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer f.Close()

	r, err := resume.NormalizeDocument(header.Filename, f)
	if errors.Is(err, resume.ErrUnparsableInput) {
		failure(c, http.StatusUnprocessableEntity, "unparsable resume", err.Error())
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	reanalyze := c.PostForm("reanalyze") == "true" || c.Query("reanalyze") == "true"
	report, err := h.workflow.Analyze(c.Request.Context(), c.Param("id"), r, reanalyze)
	if err != nil {
		h.respondError(c, err)
		return
	}

	code, message := http.StatusCreated, "resume analyzed"
	if report.Duplicate {
		code, message = http.StatusOK, "resume already analyzed"
	}
	success(c, code, message, report)
}

func (h *handler) statistics(c *gin.Context) {
	stats, err := h.workflow.Statistics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	success(c, http.StatusOK, "statistics", stats)
}
