// Package cmdutil opens the application graph for CLI commands.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/apps/internal/app"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
)

// Persistent flags declared on the root command.
const (
	FlagEnvFile  = "env-file"
	FlagLogLevel = "log-level"
)

// Open loads configuration for cmd and builds the application. Callers must Close it.
func Open(cmd *cobra.Command) (*app.App, error) {
	envFile, _ := cmd.Flags().GetString(FlagEnvFile)
	level, _ := cmd.Flags().GetString(FlagLogLevel)

	var cfg app.Config
	if err := app.LoadEnv(envFile, &cfg); err != nil {
		return nil, err
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "cli",
		Level:     level,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a, err := app.Open(cmd.Context(), cfg, app.Options{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// Context returns the command context stamped as a system actor for audit events.
func Context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return requesttrace.IntoContext(ctx, requesttrace.System(""))
}

// Logger returns the application logger, or a no-op logger when a is nil.
func Logger(a *app.App) *zap.Logger {
	if a == nil || a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
