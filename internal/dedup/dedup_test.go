package dedup

import (
	"context"
	"testing"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store/memory"
)

func seed(t *testing.T, status model.RunStatus) (*memory.Store, string) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	run := &model.WorkflowRun{JobID: "job", Status: status}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := s.SaveResult(ctx, &model.AnalysisResult{JobID: "job", RunID: run.ID, Fingerprint: "fp", Score: 70}); err != nil {
		t.Fatalf("save result: %v", err)
	}
	return s, run.ID
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		status    model.RunStatus
		sameRun   bool
		reanalyze bool
		fp        string
		want      Verdict
	}{
		{name: "unknown fingerprint", status: model.StatusCompleted, fp: "other", want: Fresh},
		{name: "prior completed run", status: model.StatusCompleted, fp: "fp", want: Duplicate},
		{name: "prior cancelled run", status: model.StatusCancelled, fp: "fp", want: Duplicate},
		{name: "prior failed run", status: model.StatusFailed, fp: "fp", want: Fresh},
		{name: "reanalyze", status: model.StatusCompleted, fp: "fp", reanalyze: true, want: Fresh},
		{name: "same run replay", status: model.StatusRunning, fp: "fp", sameRun: true, want: Replay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, priorRun := seed(t, tt.status)
			req := Request{JobID: "job", RunID: "new-run", Fingerprint: tt.fp, Reanalyze: tt.reanalyze}
			if tt.sameRun {
				req.RunID = priorRun
			}

			got, existing, err := NewChecker(s).Check(context.Background(), NewSet(), req)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if got == Replay && existing == nil {
				t.Fatal("replay must carry the existing result")
			}
		})
	}
}

func TestCheckWithinRun(t *testing.T) {
	s := memory.New()
	checker := NewChecker(s)
	set := NewSet()
	req := Request{JobID: "job", RunID: "run", Fingerprint: "fp"}

	first, _, _ := checker.Check(context.Background(), set, req)
	second, _, _ := checker.Check(context.Background(), set, req)

	if first != Fresh || second != Duplicate {
		t.Fatalf("expected fresh then duplicate, got %s then %s", first, second)
	}
	if set.Len() != 1 {
		t.Fatalf("expected one fingerprint in set, got %d", set.Len())
	}
}
