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

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/billing"
	"github.com/warp/dues-engine/store/sqlite"
)

func newServeCmd() *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: `  dues serve
  dues serve --config ./dues.yaml --scenario fresh-season`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(scenario)
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "load a demo scenario on startup (replaces all data)")
	return cmd
}

func runServe(scenario string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	rec := billing.NewReconciler(store, cfg.Policy(), log.With().Str("component", "reconciler").Logger())
	rec.FetchTimeout = cfg.Billing.FetchTimeout

	handler := api.NewHandler(store, rec, log)

	if scenario != "" {
		if _, err := handler.LoadScenarioByID(context.Background(), scenario); err != nil {
			return fmt.Errorf("failed to load scenario %q: %w", scenario, err)
		}
	}

	scheduler := api.NewRefreshScheduler(rec, log.With().Str("component", "scheduler").Logger())
	scheduler.Interval = cfg.Billing.RefreshInterval
	scheduler.Enabled = cfg.Billing.RefreshInterval > 0
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("database", cfg.Database.Path).
			Str("start", cfg.Policy().Start.String()).
			Int("cutoff_day", cfg.Billing.CutoffDay).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	log.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
