package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/talent-screener/internal/config"
	"github.com/spigell/talent-screener/internal/logger"
	"go.uber.org/zap"
)

const (
	app = "talent-screener"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "talent-screener sources resumes, scores them against a job with AI and publishes the results",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is talent-screener.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// setup loads the configuration and builds the logger. Errors are fatal.
// Commands that write prompts or reports to stdout pass keepStdout; their
// logs go to stderr whatever log.output says.
func setup(keepStdout bool) (*config.Config, *zap.Logger) {
	if err := config.Prepare(viper.GetViper(), cfgFile); err != nil {
		log.Fatalf("reading a config: %s", err)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatalf("getting a config: %s", err)
	}

	opts := logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if viper.GetBool("debug") {
		opts.Level = "debug"
	}
	if viper.GetBool("json") {
		opts.Format = logger.FormatJSON
	}
	if keepStdout {
		opts.Output = []string{"stderr"}
	}

	logger, err := logger.New(opts)
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	logger.Debug("config loaded", zap.String("file", viper.ConfigFileUsed()))
	return cfg, logger
}
