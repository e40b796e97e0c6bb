package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spigell/talent-screener/internal/config"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
	"github.com/spigell/talent-screener/internal/workflow"
	"go.uber.org/zap"
)

const (
	PromptYes           = "Yes"
	PromptNo            = "No"
	PromptResume        = "Resume the run"
	PromptCancel        = "Cancel the run"
	PromptLeavePaused   = "Leave the run paused and exit"
	PromptTopResults    = "Show top results"
	PromptResultsToFile = "Dump results to file"
	PromptExit          = "Exit"
)

var errExit = errors.New("exit requested")

var (
	confirmPrompt = promptui.Select{
		Label: "Start screening?",
		Items: []string{PromptYes, PromptNo},
	}
	interruptPrompt = promptui.Select{
		Label: "Run paused",
		Items: []string{PromptResume, PromptCancel, PromptLeavePaused},
	}
	resultsPrompt = promptui.Select{
		Label: "Next?",
		Items: []string{PromptTopResults, PromptResultsToFile, PromptExit},
	}
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Screen candidates for the configured job",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before starting and after finishing")
	runCmd.Flags().BoolP("reanalyze", "r", false, "score candidates again even if they were already scored for the job")
	runCmd.Flags().String("resume", "", "resume a paused run by id instead of starting a new one")
	runCmd.Flags().IntP("top", "t", 10, "number of results shown by the top results report")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()
	cfg, logger := setup(true)

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	runID, _ := cmd.Flags().GetString("resume")
	top, _ := cmd.Flags().GetInt("top")

	logger.Info("starting the talent-screener", zap.String("version", currentVersion()))

	app, err := newApplication(ctx, cfg, logger, appOptions{scoring: true})
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer app.Close()

	if n, err := app.orch.Recover(ctx); err != nil {
		logger.Fatal("recovering interrupted runs", zap.Error(err))
	} else if n > 0 {
		logger.Info("interrupted runs paused", zap.Int("count", n))
	}

	if runID == "" {
		runID, err = start(ctx, cmd, app, autoApprove)
	} else {
		err = app.orch.Resume(ctx, runID)
	}
	if errors.Is(err, errExit) {
		return
	}
	if err != nil {
		logger.Fatal("starting the run", zap.Error(err))
	}

	logger.Info("screening started", zap.String("run_id", runID))

	final, err := follow(ctx, app, runID)
	if errors.Is(err, errExit) {
		return
	}
	if err != nil {
		logger.Fatal("waiting for the run", zap.Error(err))
	}

	logRun(logger, final)
	if autoApprove || final.Status == model.StatusPaused {
		return
	}

	for {
		_, action, err := resultsPrompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if err := handleAction(ctx, action, app, final.JobID, top); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func start(ctx context.Context, cmd *cobra.Command, app *application, autoApprove bool) (string, error) {
	if err := app.cfg.Job.Validate(); err != nil {
		return "", err
	}

	job, err := ensureJob(ctx, app.store, app.cfg.Job)
	if err != nil {
		return "", err
	}

	params := app.cfg.Search.Params()
	if reanalyze, _ := cmd.Flags().GetBool("reanalyze"); reanalyze {
		params.Reanalyze = true
	}

	app.logger.Info("job is ready",
		zap.String("job_id", job.ID),
		zap.String("title", job.Title),
		zap.Strings("required_skills", job.RequiredSkills),
		zap.Strings("keywords", params.Keywords),
		zap.Int("max_results", params.MaxResults),
		zap.Bool("reanalyze", params.Reanalyze),
	)

	if !autoApprove {
		_, answer, err := confirmPrompt.Run()
		if err != nil {
			return "", err
		}
		if answer != PromptYes {
			app.logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return "", errExit
		}
	}

	return app.orch.Start(ctx, job.ID, params)
}

// ensureJob returns the configured job, creating it on first use.
func ensureJob(ctx context.Context, s store.Store, cfg config.JobConfig) (*model.Job, error) {
	if cfg.ID != "" {
		job, err := s.GetJob(ctx, cfg.ID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get job: %w", err)
		}
	}

	job := cfg.Model()
	if err := s.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

type waitResult struct {
	run *model.WorkflowRun
	err error
}

// follow waits for the run. An interrupt pauses it and asks what to do next.
func follow(ctx context.Context, app *application, runID string) (*model.WorkflowRun, error) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	for {
		waitCtx, stop := context.WithCancel(ctx)
		done := make(chan waitResult, 1)
		go func() {
			run, err := app.orch.Wait(waitCtx, runID)
			done <- waitResult{run: run, err: err}
		}()

		select {
		case res := <-done:
			stop()
			return res.run, res.err
		case <-interrupts:
			stop()
		}

		if err := app.orch.Pause(ctx, runID); err != nil {
			if errors.Is(err, workflow.ErrInvalidTransition) {
				// finished before the pause landed
				continue
			}
			return nil, err
		}

		status, err := app.orch.Status(ctx, runID)
		if err != nil {
			return nil, err
		}
		logRun(app.logger, status)

		_, action, err := interruptPrompt.Run()
		if err != nil {
			action = PromptLeavePaused
		}

		switch action {
		case PromptResume:
			if err := app.orch.Resume(ctx, runID); err != nil {
				return nil, err
			}
		case PromptCancel:
			if err := app.orch.Cancel(ctx, runID); err != nil {
				return nil, err
			}
		default:
			app.logger.Info("run left paused",
				zap.String("run_id", runID),
				zap.String("hint", "talent-screener run --resume "+runID),
			)
			return nil, errExit
		}
	}
}

func logRun(logger *zap.Logger, run *model.WorkflowRun) {
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("sourced", run.Counts.Sourced),
		zap.Int("deduped", run.Counts.Deduped),
		zap.Int("scored", run.Counts.Scored),
		zap.Int("synced", run.Counts.Synced),
		zap.Int("errored", run.Counts.Errored),
	}
	if run.Error != "" {
		fields = append(fields, zap.String("error", run.Error))
	}
	logger.Info("run state", fields...)
}

func handleAction(ctx context.Context, action string, app *application, jobID string, top int) error {
	switch action {
	case PromptExit:
		return errExit
	case PromptTopResults:
		results, err := rankedResults(ctx, app.store, jobID)
		if err != nil {
			return err
		}
		if top > 0 && len(results) > top {
			results = results[:top]
		}
		for i, res := range results {
			name := res.ResumeID
			if r, err := app.store.GetResume(ctx, res.ResumeID); err == nil {
				name = r.Name
			}
			fmt.Printf("%2d. %5.1f  %s  %s\n", i+1, res.Score, name, strings.TrimSpace(res.Rationale))
		}
		return nil
	case PromptResultsToFile:
		results, err := rankedResults(ctx, app.store, jobID)
		if err != nil {
			return err
		}
		filename, err := dumpToTmpFile(results)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		app.logger.Info("dumping results to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func rankedResults(ctx context.Context, s store.Store, jobID string) ([]model.AnalysisResult, error) {
	results, err := s.ListResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func dumpToTmpFile(v any) (string, error) {
	f, err := os.CreateTemp("", app+"-results-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return f.Name(), nil
}
