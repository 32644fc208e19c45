package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ad_publisher/internal/api"
	"ad_publisher/internal/app"
	"ad_publisher/internal/config"
	"ad_publisher/internal/scheduler"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "adpublisher",
	Short:         "Publish campaign drafts to the advertising platform",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the auto-resume scheduler",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd)
}

func loadApp() (*app.App, error) {
	logger := setupLogger("info")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, err
	}

	return app.New(cfg, setupLogger(cfg.LogLevel))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(api.Services{
		Publish:   a.Publish,
		Budget:    a.Budget,
		Status:    a.Status,
		Lifecycle: a.Lifecycle,
		Metrics:   a.Metrics.Handler(),
	}, a.Config.HTTP, a.Logger)

	g, gctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if a.Config.Resume.Enabled {
		sched := scheduler.NewScheduler(a.Resume, a.Config.Resume.Interval, a.Logger,
			scheduler.WithRecorder(a.Metrics),
		)
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.Logger.Info("starting ad publisher",
		"addr", a.Config.HTTP.ListenAddr,
		"auto_resume", a.Config.Resume.Enabled,
		"audit_fanout", a.Config.RabbitMQ.Enabled,
	)

	return g.Wait()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Platform: %s/%s (%s)\n", cfg.Platform.BaseURL, cfg.Platform.APIVersion, cfg.Platform.AdAccountID)
	fmt.Printf("  Storage: %s\n", cfg.Storage.BaseURL)
	fmt.Printf("  Asset cache: %s\n", cfg.Cache.Path)
	fmt.Printf("  API: %s\n", cfg.HTTP.ListenAddr)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}
