package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spigell/talent-screener/internal/resume"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Score a single resume document against the configured job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		analyze(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolP("reanalyze", "r", false, "score the resume again even if it was already scored for the job")
}

func analyze(cmd *cobra.Command, path string) {
	ctx := context.Background()
	cfg, logger := setup(true)

	reanalyze, _ := cmd.Flags().GetBool("reanalyze")

	if !resume.Supported(path) {
		logger.Fatal("unsupported document type", zap.String("file", path))
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Fatal("opening the document", zap.Error(err))
	}
	defer f.Close()

	r, err := resume.NormalizeDocument(filepath.Base(path), f)
	if err != nil {
		logger.Fatal("reading the document", zap.String("file", path), zap.Error(err))
	}

	app, err := newApplication(ctx, cfg, logger, appOptions{scoring: true})
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer app.Close()

	if err := cfg.Job.Validate(); err != nil {
		logger.Fatal("checking the job", zap.Error(err))
	}
	job, err := ensureJob(ctx, app.store, cfg.Job)
	if err != nil {
		logger.Fatal("preparing the job", zap.Error(err))
	}

	report, err := app.orch.Analyze(ctx, job.ID, r, reanalyze)
	if err != nil {
		logger.Fatal("analyzing the resume", zap.Error(err))
	}

	if report.SyncError != "" {
		logger.Warn("result was not published", zap.String("error", report.SyncError))
	}

	// do not bother error since the report is a plain struct
	pretty, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(pretty))
}
