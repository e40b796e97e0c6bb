package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync [job-id]",
	Short: "Publish every stored result of a job to the external table",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		resync(args)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func resync(args []string) {
	ctx := context.Background()
	cfg, logger := setup(false)

	jobID := cfg.Job.ID
	if len(args) > 0 {
		jobID = args[0]
	}
	if jobID == "" {
		logger.Fatal("job id is required", zap.String("hint", "pass it as an argument or set job.id"))
	}
	if !cfg.Publish.Enabled {
		logger.Fatal("publishing is disabled", zap.String("hint", "set publish.enabled"))
	}

	app, err := newApplication(ctx, cfg, logger, appOptions{})
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer app.Close()

	report, err := app.orch.Resync(ctx, jobID)
	if err != nil {
		logger.Fatal("syncing results", zap.Error(err))
	}

	logger.Info("sync finished",
		zap.String("job_id", jobID),
		zap.Int("total", report.Total),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Strings("errors", report.Errors),
	)
}
