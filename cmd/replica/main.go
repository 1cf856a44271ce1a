// Command replica runs a Russian-language conversational bot: a console
// chat, an HTTP/websocket/Discord server, or a configuration check.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/replica/internal/app"
	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/observe"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "replica",
		Short:         "Conversational bot: FAQ, rules, facts and orders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "replica.yaml", "path to the YAML profile")

	root.AddCommand(
		newChatCmd(&configPath),
		newServeCmd(&configPath),
		newValidateCmd(&configPath),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Application setup ─────────────────────────────────────────────────────────

// startApp loads the profile at path, installs the logger and builds the
// application. The profile is watched for changes while the app runs.
func startApp(ctx context.Context, path string) (*app.App, error) {
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level))

	var application *app.App
	w, err := config.NewWatcher(path, func(_, next *config.Config, d config.ConfigDiff) {
		if application != nil {
			application.ApplyChange(ctx, next, d)
		}
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	cfg := w.Current()
	level.Set(cfg.Server.LogLevel.Slog())
	slog.Debug("replica starting", "config", path, "persona", cfg.Persona.ID, "log_level", cfg.Server.LogLevel)

	opts := []app.Option{app.WithLevel(level), app.WithWatcher(w)}
	metrics := observe.Discard()
	var tp *observe.Provider
	if cfg.Telemetry.Metrics {
		if tp, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName}); err != nil {
			return nil, err
		}
		if metrics, err = observe.NewMetrics(tp.Meter); err != nil {
			_ = tp.Shutdown(context.Background())
			return nil, err
		}
		opts = append(opts, app.WithTelemetry(tp), app.WithMetrics(metrics))
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(reg, cfg.Providers, metrics)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
		return nil, err
	}

	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return nil, err
	}
	return application, nil
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
