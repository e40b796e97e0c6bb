// Package store declares the persistence contract of the screener.
package store

import (
	"context"
	"errors"

	"github.com/spigell/talent-screener/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a run was updated from a stale version.
	ErrConflict = errors.New("version conflict")
)

// Store is implemented by the memory and postgres backends. Returned values
// are copies owned by the caller.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)

	// SaveResume stores the resume unless one with the same fingerprint
	// exists, and returns the stored one.
	SaveResume(ctx context.Context, r *model.Resume) (*model.Resume, error)
	GetResume(ctx context.Context, id string) (*model.Resume, error)

	// SaveResult upserts by (job id, fingerprint). An existing result keeps
	// its id and creation time.
	SaveResult(ctx context.Context, res *model.AnalysisResult) (*model.AnalysisResult, error)
	FindResult(ctx context.Context, jobID, fingerprint string) (*model.AnalysisResult, error)
	ListResults(ctx context.Context, jobID string) ([]model.AnalysisResult, error)

	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	// UpdateRun writes run if its Version matches the stored one and bumps
	// Version on success.
	UpdateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	// ListRuns returns the runs of a job, newest first.
	ListRuns(ctx context.Context, jobID string) ([]model.WorkflowRun, error)
	ListRunsByStatus(ctx context.Context, statuses ...model.RunStatus) ([]model.WorkflowRun, error)

	GetSyncRecord(ctx context.Context, resultID string) (*model.SyncRecord, error)
	SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error

	Close() error
}
