package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/keycloak-gateway/config"
	"github.com/upb/keycloak-gateway/internal/observability"
	"go.uber.org/zap"
)

// version is set at build time via -ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Keycloak-backed authentication gateway",
	Long: `Runs an HTTP gateway that verifies Keycloak access tokens, enforces realm roles
and proxies user management to the Keycloak admin API.

Running without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogger initializes the zap logger from the observability settings
func initLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "keycloak-gateway")), nil
}
