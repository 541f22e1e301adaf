package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mmynk/payday/internal/metrics"
	"github.com/mmynk/payday/internal/middleware"
	"github.com/mmynk/payday/internal/service"
)

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run paydays on PAYDAY_SCHEDULE and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			svc := a.newService(store)

			cronLog := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
			c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
			if _, err := c.AddFunc(a.cfg.Schedule.Cron, func() { scheduledRun(ctx, svc) }); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{
				Addr:              a.cfg.Schedule.MetricsAddr,
				Handler:           middleware.Logging(mux),
				ReadHeaderTimeout: 5 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				slog.Info("Metrics server starting", "address", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			c.Start()
			slog.Info("Payday scheduler started", "schedule", a.cfg.Schedule.Cron)

			select {
			case <-ctx.Done():
			case err = <-serveErr:
			}

			slog.Info("Shutting down scheduler")
			<-c.Stop().Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				slog.Error("Metrics server shutdown failed", "error", serr)
			}
			return err
		},
	}
}

// scheduledRun settles and dispatches one payday. Failures are logged; the
// scheduler keeps running.
func scheduledRun(ctx context.Context, svc *service.PaydayService) {
	run, err := svc.Run(ctx)
	if err != nil {
		slog.Error("Scheduled payday failed", "error", err)
		return
	}
	report, err := svc.Dispatch(ctx, run.ID)
	if err != nil {
		slog.Error("Scheduled dispatch failed", "run_id", run.ID, "error", err)
		return
	}
	if report.Failed > 0 {
		slog.Warn("Scheduled dispatch left failed instructions",
			"run_id", run.ID,
			"failed", report.Failed,
		)
	}
}
