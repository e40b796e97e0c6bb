package cmd

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"github.com/spigell/talent-screener/internal/config"
	"github.com/spigell/talent-screener/internal/secrets"
	"github.com/spigell/talent-screener/internal/store/postgres"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|version>",
	Short:     "Manage the postgres schema",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	Run: func(_ *cobra.Command, args []string) {
		runMigrate(args[0])
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(direction string) {
	cfg, logger := setup(false)

	if cfg.Store.Driver != config.StorePostgres {
		logger.Fatal("migrations need the postgres store", zap.String("driver", cfg.Store.Driver))
	}

	dsn, err := secrets.Load(cfg.Store.DSN)
	if err != nil {
		logger.Fatal("loading the dsn", zap.Error(err))
	}

	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		logger.Fatal("creating the migrator", zap.Error(err))
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return
		}
		if err != nil {
			logger.Fatal("reading the schema version", zap.Error(err))
		}
		logger.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return
	default:
		logger.Fatal("unknown direction", zap.String("direction", direction))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrating", zap.String("direction", direction), zap.Error(err))
	}
	logger.Info("migrations applied", zap.String("direction", direction))
}
