package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/payday/internal/config"
	"github.com/mmynk/payday/internal/gateway"
	"github.com/mmynk/payday/internal/loader"
	"github.com/mmynk/payday/internal/metrics"
	"github.com/mmynk/payday/internal/service"
	"github.com/mmynk/payday/internal/storage"
	"github.com/mmynk/payday/internal/storage/postgres"
	"github.com/mmynk/payday/internal/storage/sqlite"
	"github.com/mmynk/payday/pkg/logging"
)

// app carries state shared by all subcommands.
type app struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "payday",
		Short:        "Settle weekly pledges and payouts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.SetupWith(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
			metrics.Init()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "optional .env file loaded before the environment")

	root.AddCommand(
		newRunCmd(a),
		newScheduleCmd(a),
		newSeedCmd(a),
		newShowCmd(a),
		newRedispatchCmd(a),
	)

	return root
}

// openStore connects to the configured ledger backend.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Ledger.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, a.cfg.Ledger.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", config.DriverPostgres)
		return store, nil
	default:
		store, err := sqlite.New(a.cfg.Ledger.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", config.DriverSQLite, "database", a.cfg.Ledger.DBPath)
		return store, nil
	}
}

// newService wires the coordinator with a dry-run gateway.
func (a *app) newService(store storage.LedgerStore) *service.PaydayService {
	d := gateway.NewDispatcher(gateway.NewLogGateway(), store, gateway.Options{
		Workers:        a.cfg.Dispatch.Workers,
		MaxAttempts:    a.cfg.Dispatch.MaxAttempts,
		InitialBackoff: a.cfg.Dispatch.InitialBackoff,
		MaxBackoff:     a.cfg.Dispatch.MaxBackoff,
	})
	ld := loader.New(store, a.cfg.Settle.MinorUnits)
	return service.NewPaydayService(store, ld, d, service.Options{SettleWorkers: a.cfg.Settle.Workers})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
