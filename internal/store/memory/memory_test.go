package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
)

func TestSaveResultKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.SaveResult(ctx, &model.AnalysisResult{JobID: "job", Fingerprint: "fp", Score: 40})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	second, err := s.SaveResult(ctx, &model.AnalysisResult{JobID: "job", Fingerprint: "fp", Score: 90})
	if err != nil {
		t.Fatalf("save again: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected upsert to keep id, got %s and %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("expected creation time to be preserved")
	}

	results, _ := s.ListResults(ctx, "job")
	if len(results) != 1 || results[0].Score != 90 {
		t.Fatalf("expected a single superseded result, got %+v", results)
	}

	found, err := s.FindResult(ctx, "job", "fp")
	if err != nil || found.ID != first.ID {
		t.Fatalf("find result: %+v, %v", found, err)
	}
	if _, err := s.FindResult(ctx, "other", "fp"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for another job, got %v", err)
	}
}

func TestSaveResumeByFingerprint(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, _ := s.SaveResume(ctx, &model.Resume{Fingerprint: "fp", Name: "Ann", Skills: []string{"Go"}})
	b, _ := s.SaveResume(ctx, &model.Resume{Fingerprint: "fp", Name: "Annie"})

	if a.ID != b.ID || b.Name != "Ann" {
		t.Fatalf("expected the stored resume to be returned, got %+v", b)
	}

	b.Skills[0] = "mutated"
	stored, _ := s.GetResume(ctx, a.ID)
	if stored.Skills[0] != "Go" {
		t.Fatal("returned resume must be a copy")
	}
}

func TestUpdateRunOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	run := &model.WorkflowRun{JobID: "job", Status: model.StatusRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := *run
	run.Cursor = "5"
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}
	if run.Version != 2 {
		t.Fatalf("expected version 2, got %d", run.Version)
	}

	stale.Cursor = "1"
	if err := s.UpdateRun(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Cursor != "5" {
		t.Fatalf("stale write must not land, cursor %q", got.Cursor)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []model.RunStatus{model.StatusCompleted, model.StatusPaused, model.StatusRunning} {
		run := &model.WorkflowRun{JobID: "job", Status: status, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_ = s.CreateRun(ctx, &model.WorkflowRun{JobID: "other", Status: model.StatusRunning})

	runs, _ := s.ListRuns(ctx, "job")
	if len(runs) != 3 || runs[0].Status != model.StatusRunning || runs[2].Status != model.StatusCompleted {
		t.Fatalf("unexpected order: %+v", runs)
	}

	active, _ := s.ListRunsByStatus(ctx, model.StatusRunning, model.StatusPaused)
	if len(active) != 3 {
		t.Fatalf("expected 3 active runs, got %d", len(active))
	}
}

func TestSyncRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetSyncRecord(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SaveSyncRecord(ctx, &model.SyncRecord{ResultID: "r1", RemoteID: "rec1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.GetSyncRecord(ctx, "r1")
	if err != nil || rec.RemoteID != "rec1" || rec.SyncedAt.IsZero() {
		t.Fatalf("unexpected record %+v, %v", rec, err)
	}
}
