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

	"github.com/lyndonlyu/sitereset/internal/ratelimit"
	"github.com/lyndonlyu/sitereset/internal/server"
)

var serveInProcess bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the factory reset API",
	Long: "Serves POST <namespace>/factory-reset and the two-request prepare/execute\n" +
		"routes. Requests must carry the configured bearer token.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveInProcess, "in-process", false, "Execute resets in the server process instead of a child")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Server.Token == "" {
		return errors.New("server.token is not set; refusing to serve an unauthenticated reset API")
	}
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resetInProcess = serveInProcess
	exec, err := a.executor()
	if err != nil {
		return err
	}
	srv := &server.Server{
		Resetter:   a.orchestrator(exec),
		Store:      a.state,
		Token:      cfg.Server.Token,
		Namespace:  a.svc.Brand.Namespace(),
		TimeBudget: cfg.TimeBudget(),
		HandoffTTL: cfg.HandoffTTL(),
		Metrics:    a.metrics.Handler(),
		Limiter:    ratelimit.PerMinute(cfg.Server.RateLimit, cfg.Server.RateBurst),
		Health:     a.health,
		Logger:     logger,
	}
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				srv.Limiter.Prune()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving reset api", "addr", cfg.Server.Addr, "namespace", srv.Namespace)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down; waiting for running resets")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TimeBudget())
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
