package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"event-extractor/internal/api"
	"event-extractor/internal/scheduler"
	"event-extractor/internal/telemetry"
)

var drainTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, operator API and metrics endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 2*time.Minute, "how long shutdown waits for in-flight tenant runs")
}

func runServe(*cobra.Command, []string) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Runs outlive the signal so they can drain; runCancel aborts them if
	// draining takes too long.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	a, err := newApp(sigCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := scheduler.New(a.orch, cfg.ScheduleInterval, cfg.BackupInterval, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(runCtx); err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(a.orch, a.store, a.source, a.limiter, a.leases, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(sigCtx)
	listen := func(name string, srv *http.Server) func() error {
		return func() error {
			logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
	g.Go(listen("api", apiServer))
	g.Go(listen("metrics", metricsServer))
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(httpCtx)

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := a.orch.Shutdown(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("drain timed out, aborting in-flight runs")
			runCancel()
		}
		if err := sched.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("scheduler shutdown")
		}
		_ = metricsServer.Shutdown(httpCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}
	logger.Info().Msg("extractor stopped")
	return nil
}
