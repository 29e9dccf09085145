// Command docagg runs aggregation pipelines over JSON document collections
// stored in SQLite, compiling them to SQL when possible.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/activity"
	"github.com/matthewbaird/docagg/internal/config"
	"github.com/matthewbaird/docagg/internal/eventbus"
	"github.com/matthewbaird/docagg/internal/logging"
	"github.com/matthewbaird/docagg/internal/metrics"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/store"
)

var (
	configFile    string
	dsnFlag       string
	forceFallback bool
)

var rootCmd = &cobra.Command{
	Use:           "docagg",
	Short:         "Aggregation pipelines over SQLite-backed document collections",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "database DSN (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&forceFallback, "force-fallback", false, "force the interpreter path")

	rootCmd.AddCommand(serveCmd, aggregateCmd, explainCmd, loadCmd, indexCmd, benchCmd, shellCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("error:"), err)
		os.Exit(1)
	}
}

// app holds the components every command shares.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	router  *router.Router
	metrics *metrics.Metrics
	bus     *eventbus.Bus
	runs    *activity.MemoryStore
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dsnFlag != "" {
		cfg.Database.DSN = dsnFlag
	}
	if cmd.Flags().Changed("force-fallback") {
		cfg.Router.ForceFallback = forceFallback
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	st, err := store.Open(cmd.Context(), cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}

	runs := activity.NewMemoryStore(cfg.Events.RunCapacity)
	bus := eventbus.New(cfg.Events.Buffer, logger)
	bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	bus.Subscribe("activity", runs)
	bus.Start(cmd.Context())

	m := metrics.New()
	rt := router.New(st, router.NewOverride(cfg.Router.ForceFallback), router.Config{
		MaxStages:             cfg.Router.MaxStages,
		FallbackOnEngineError: cfg.Router.FallbackOnEngineError,
		Hooks:                 router.ChainHooks(m.RouterHooks(), bus.Hooks()),
		Logger:                logger,
	})
	return &app{cfg: cfg, logger: logger, store: st, router: rt, metrics: m, bus: bus, runs: runs}, nil
}

// Close drains the event bus and closes the database.
func (a *app) Close() error {
	a.bus.Stop()
	return a.store.Close()
}
