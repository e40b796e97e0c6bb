// Package memory is an in-process Store used by default and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
)

type resultKey struct {
	jobID       string
	fingerprint string
}

type Store struct {
	mu sync.RWMutex

	jobs          map[string]model.Job
	resumes       map[string]model.Resume
	byFingerprint map[string]string
	results       map[string]model.AnalysisResult
	resultIndex   map[resultKey]string
	runs          map[string]model.WorkflowRun
	syncRecords   map[string]model.SyncRecord

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:          make(map[string]model.Job),
		resumes:       make(map[string]model.Resume),
		byFingerprint: make(map[string]string),
		results:       make(map[string]model.AnalysisResult),
		resultIndex:   make(map[resultKey]string),
		runs:          make(map[string]model.WorkflowRun),
		syncRecords:   make(map[string]model.SyncRecord),
		now:           time.Now,
	}
}

func (s *Store) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	s.jobs[job.ID] = job.Snapshot()
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	job = job.Snapshot()
	return &job, nil
}

func (s *Store) ListJobs(_ context.Context) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveResume(_ context.Context, r *model.Resume) (*model.Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFingerprint[r.Fingerprint]; ok {
		existing := copyResume(s.resumes[id])
		return &existing, nil
	}

	stored := copyResume(*r)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.resumes[stored.ID] = stored
	s.byFingerprint[stored.Fingerprint] = stored.ID

	out := copyResume(stored)
	return &out, nil
}

func (s *Store) GetResume(_ context.Context, id string) (*model.Resume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resumes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	r = copyResume(r)
	return &r, nil
}

func (s *Store) SaveResult(_ context.Context, res *model.AnalysisResult) (*model.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := *res
	key := resultKey{jobID: res.JobID, fingerprint: res.Fingerprint}
	if id, ok := s.resultIndex[key]; ok {
		existing := s.results[id]
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	stored.UpdatedAt = now

	s.results[stored.ID] = stored
	s.resultIndex[key] = stored.ID

	out := stored
	return &out, nil
}

func (s *Store) FindResult(_ context.Context, jobID, fingerprint string) (*model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resultIndex[resultKey{jobID: jobID, fingerprint: fingerprint}]
	if !ok {
		return nil, store.ErrNotFound
	}
	res := s.results[id]
	return &res, nil
}

func (s *Store) ListResults(_ context.Context, jobID string) ([]model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AnalysisResult
	for _, res := range s.results {
		if res.JobID == jobID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateRun(_ context.Context, run *model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	run.Version = 1
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) UpdateRun(_ context.Context, run *model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != run.Version {
		return store.ErrConflict
	}

	run.Version++
	run.UpdatedAt = s.now().UTC()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	run = run.Clone()
	return &run, nil
}

func (s *Store) ListRuns(_ context.Context, jobID string) ([]model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowRun
	for _, run := range s.runs {
		if run.JobID == jobID {
			out = append(out, run.Clone())
		}
	}
	sortRuns(out)
	return out, nil
}

func (s *Store) ListRunsByStatus(_ context.Context, statuses ...model.RunStatus) ([]model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[model.RunStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []model.WorkflowRun
	for _, run := range s.runs {
		if len(want) == 0 || want[run.Status] {
			out = append(out, run.Clone())
		}
	}
	sortRuns(out)
	return out, nil
}

func (s *Store) GetSyncRecord(_ context.Context, resultID string) (*model.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.syncRecords[resultID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) SaveSyncRecord(_ context.Context, rec *model.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = s.now().UTC()
	}
	s.syncRecords[rec.ResultID] = *rec
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copyResume(r model.Resume) model.Resume {
	r.Skills = append([]string(nil), r.Skills...)
	return r
}

func sortRuns(runs []model.WorkflowRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}
