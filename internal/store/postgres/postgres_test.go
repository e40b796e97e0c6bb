package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the database named by TALENT_SCREENER_TEST_DSN.
// The schema is migrated and every table is emptied.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TALENT_SCREENER_TEST_DSN")
	if dsn == "" {
		t.Skip("TALENT_SCREENER_TEST_DSN is not set")
	}

	require.NoError(t, MigrateUp(dsn))

	ctx := context.Background()
	s, err := Open(ctx, Options{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.db.ExecContext(ctx, `TRUNCATE sync_records, analysis_results, workflow_runs, resumes, jobs`)
	require.NoError(t, err)
	return s
}

func TestJobsAndResumes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &model.Job{Title: "ML engineer", RequiredSkills: []string{"python"}}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Title, got.Title)
	assert.Equal(t, []string{"python"}, got.RequiredSkills)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.SaveResume(ctx, &model.Resume{Fingerprint: "fp", Name: "Ann", Source: model.SourceScraped})
	require.NoError(t, err)
	second, err := s.SaveResume(ctx, &model.Resume{Fingerprint: "fp", Name: "Ann Smith", Source: model.SourceManual})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ann", second.Name)
}

func TestResultUpsertKeepsIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &model.Job{Title: "ML engineer"}
	require.NoError(t, s.CreateJob(ctx, job))
	r, err := s.SaveResume(ctx, &model.Resume{Fingerprint: "fp", Name: "Ann", Source: model.SourceScraped})
	require.NoError(t, err)

	first, err := s.SaveResult(ctx, &model.AnalysisResult{ResumeID: r.ID, JobID: job.ID, Fingerprint: "fp", Score: 50})
	require.NoError(t, err)
	second, err := s.SaveResult(ctx, &model.AnalysisResult{ResumeID: r.ID, JobID: job.ID, Fingerprint: "fp", Score: 80, RunID: "run"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 80, second.Score, 0.001)

	found, err := s.FindResult(ctx, job.ID, "fp")
	require.NoError(t, err)
	assert.Equal(t, "run", found.RunID)

	results, err := s.ListResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = s.GetSyncRecord(ctx, first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.SaveSyncRecord(ctx, &model.SyncRecord{ResultID: first.ID, RemoteID: "rec-1"}))
	require.NoError(t, s.SaveSyncRecord(ctx, &model.SyncRecord{ResultID: first.ID, RemoteID: "rec-1"}))
	rec, err := s.GetSyncRecord(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.RemoteID)
}

func TestRunVersioning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &model.Job{Title: "ML engineer"}
	require.NoError(t, s.CreateJob(ctx, job))

	run := &model.WorkflowRun{
		JobID:  job.ID,
		Job:    job.Snapshot(),
		Params: model.SourcingParams{Keywords: []string{"python"}},
		Status: model.StatusRunning,
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.EqualValues(t, 1, run.Version)

	stale := run.Clone()

	run.Cursor = "10"
	run.Counts = model.Counts{Sourced: 10, Scored: 9, Errored: 1}
	require.NoError(t, s.UpdateRun(ctx, run))
	assert.EqualValues(t, 2, run.Version)

	assert.ErrorIs(t, s.UpdateRun(ctx, &stale), store.ErrConflict)

	missing := model.WorkflowRun{ID: "missing", Version: 1}
	assert.ErrorIs(t, s.UpdateRun(ctx, &missing), store.ErrNotFound)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", got.Cursor)
	assert.Equal(t, run.Counts, got.Counts)
	assert.Equal(t, []string{"python"}, got.Params.Keywords)
	assert.Nil(t, got.CompletedAt)

	running, err := s.ListRunsByStatus(ctx, model.StatusRunning, model.StatusPaused)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	all, err := s.ListRunsByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	history, err := s.ListRuns(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
