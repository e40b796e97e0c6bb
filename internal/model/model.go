// Package model holds the entities shared by the sourcing, scoring and
// publishing stages.
package model

import (
	"time"
)

// SourceTag tells where a resume came from.
type SourceTag string

const (
	SourceManual  SourceTag = "manual"
	SourceScraped SourceTag = "scraped"
)

// Job describes an open position candidates are scored against.
type Job struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	RequiredSkills     []string  `json:"required_skills"`
	PreferredSkills    []string  `json:"preferred_skills"`
	MinExperienceYears float64   `json:"min_experience_years"`
	Education          string    `json:"education"`
	Description        string    `json:"description"`
	CreatedAt          time.Time `json:"created_at"`
}

// Snapshot returns a deep copy of the job. A run scores against the snapshot
// taken at start.
func (j Job) Snapshot() Job {
	j.RequiredSkills = append([]string(nil), j.RequiredSkills...)
	j.PreferredSkills = append([]string(nil), j.PreferredSkills...)
	return j
}

// Resume is the canonical form of a candidate produced by the normalizer.
type Resume struct {
	ID                string    `json:"id"`
	Fingerprint       string    `json:"fingerprint"`
	ExternalID        string    `json:"external_id,omitempty"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Skills            []string  `json:"skills"`
	YearsOfExperience float64   `json:"years_of_experience"`
	Summary           string    `json:"summary"`
	Text              string    `json:"-"`
	Source            SourceTag `json:"source"`
	CreatedAt         time.Time `json:"created_at"`
}

// AnalysisResult is the canonical score of a resume for a job.
type AnalysisResult struct {
	ID          string    `json:"id"`
	ResumeID    string    `json:"resume_id"`
	JobID       string    `json:"job_id"`
	RunID       string    `json:"run_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Score       float64   `json:"score"`
	Rationale   string    `json:"rationale"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncRecord maps an analysis result to the record created for it in the
// remote table. An empty RemoteID marks a create that has not been confirmed.
type SyncRecord struct {
	ResultID string    `json:"result_id"`
	RemoteID string    `json:"remote_id"`
	SyncedAt time.Time `json:"synced_at"`
}

// RunStatus is a state of the workflow run state machine.
type RunStatus string

const (
	StatusPending             RunStatus = "pending"
	StatusRunning             RunStatus = "running"
	StatusPaused              RunStatus = "paused"
	StatusCompleted           RunStatus = "completed"
	StatusCompletedWithErrors RunStatus = "completed_with_errors"
	StatusFailed              RunStatus = "failed"
	StatusCancelled           RunStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Counts aggregates resume-unit outcomes of a run.
type Counts struct {
	Sourced int `json:"sourced"`
	Deduped int `json:"deduped"`
	Scored  int `json:"scored"`
	Synced  int `json:"synced"`
	Errored int `json:"errored"`
}

// Add returns the sum of both counts.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Sourced: c.Sourced + o.Sourced,
		Deduped: c.Deduped + o.Deduped,
		Scored:  c.Scored + o.Scored,
		Synced:  c.Synced + o.Synced,
		Errored: c.Errored + o.Errored,
	}
}

// SourcingParams are the per-run search options.
type SourcingParams struct {
	Keywords   []string          `json:"keywords"`
	Filters    map[string]string `json:"filters,omitempty"`
	MaxResults int               `json:"max_results"`
	Reanalyze  bool              `json:"reanalyze"`
}

// WorkflowRun is the persisted progress record of one run. It is the single
// source of truth for resuming.
type WorkflowRun struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	Job         Job            `json:"job"`
	Params      SourcingParams `json:"params"`
	Status      RunStatus      `json:"status"`
	Cursor      string         `json:"cursor"`
	Counts      Counts         `json:"counts"`
	Error       string         `json:"error,omitempty"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand to concurrent readers.
func (r WorkflowRun) Clone() WorkflowRun {
	r.Job = r.Job.Snapshot()
	r.Params.Keywords = append([]string(nil), r.Params.Keywords...)
	if r.Params.Filters != nil {
		filters := make(map[string]string, len(r.Params.Filters))
		for k, v := range r.Params.Filters {
			filters[k] = v
		}
		r.Params.Filters = filters
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
