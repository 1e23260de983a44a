package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/keycloak-gateway/app"
	"github.com/upb/keycloak-gateway/config"
	"github.com/upb/keycloak-gateway/routes"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Starts the HTTP gateway. Configuration is read from the environment and an
optional .env file in the working directory.

Examples:

  # start with keys loaded lazily on the first request
    gateway serve

  # fetch the realm signing keys before accepting traffic
    gateway serve --warm-keys
`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("warm-keys", false, "Fetch the realm signing keys before accepting traffic")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting keycloak gateway",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
		zap.String("realm", cfg.Keycloak.Realm))

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	// the serve subcommand owns the flag; the bare root command never warms
	if warm, _ := cmd.Flags().GetBool("warm-keys"); warm {
		if set, err := deps.KeyCache.Refresh(ctx); err != nil {
			logger.Warn("initial key fetch failed; keys will be loaded on demand", zap.Error(err))
		} else {
			logger.Info("signing keys loaded", zap.Strings("kids", set.KeyIDs()))
		}
	}

	srv := newServer(&cfg.Server, routes.SetupRoutes(deps))
	return serve(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}

func newServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server", zap.Duration("timeout", shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
