package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/lockstep-run/lockstep/internal/logging"
	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/internal/workspace"
	"github.com/lockstep-run/lockstep/pkg/mcp"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "lockstep",
		Short:        "Deterministic workflow interpreter over MCP",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the lockstep.run tool over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			logger := newLogger(cfg)

			definitions, err := validation.NewDefinitionValidator()
			if err != nil {
				return fmt.Errorf("compile workflow schema: %w", err)
			}

			srv := mcp.NewLockstepServer(mcp.LockstepServerDeps{
				Workspaces:     workspace.NewDirResolver(cfg.WorkspacesDir),
				Definitions:    definitions,
				DefaultTimeout: time.Duration(cfg.ExecTimeoutMS) * time.Millisecond,
				MaxOutputSize:  cfg.MaxOutputBytes,
				Logger:         logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("lockstep serving on stdio",
				slog.String("version", version),
				slog.String("workspaces", cfg.WorkspacesDir))
			return srv.Serve(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lockstep version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

// newLogger builds the stderr logger: tint for human terminals, JSON
// otherwise, both wrapped so correlation IDs flow from the context.
// Stdout stays reserved for the MCP transport.
func newLogger(cfg Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	var inner slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		inner = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	} else {
		inner = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
