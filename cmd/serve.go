package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spigell/talent-screener/internal/api"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx := context.Background()
	cfg, logger := setup(false)

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

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(app.orch, app.store, api.Options{
			MaxUploadSize: cfg.Server.MaxUploadSize,
			Logger:        logger.Named("api"),
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listen failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := app.orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("pausing active runs", zap.Error(err))
	}

	logger.Info("server exiting")
}
