package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coterie-ai/coterie/internal/bus"
	"github.com/coterie-ai/coterie/internal/channels"
	"github.com/coterie-ai/coterie/internal/config"
	"github.com/coterie-ai/coterie/internal/gateway"
	"github.com/coterie-ai/coterie/internal/runtime"
	"github.com/coterie-ai/coterie/internal/store"
	"github.com/coterie-ai/coterie/internal/store/pg"
	"github.com/coterie-ai/coterie/internal/store/sqlite"
	"github.com/coterie-ai/coterie/internal/telemetry"
	"github.com/coterie-ai/coterie/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the coterie gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

// buildStores picks the backend: Postgres when a DSN is configured,
// SQLite otherwise.
func buildStores(cfg *config.Config) (*store.Stores, error) {
	storeCfg := store.StoreConfig{
		PostgresDSN: cfg.Storage.PostgresDSN,
		SQLitePath:  cfg.Storage.SQLitePath,
	}
	if storeCfg.PostgresDSN != "" {
		return pg.NewPGStores(storeCfg)
	}
	return sqlite.NewSQLiteStores(storeCfg)
}

func managerConfigFrom(cfg *config.Config) channels.ManagerConfig {
	return channels.ManagerConfig{
		InjectionEnabled:     cfg.Channels.Injection.Enabled,
		InjectionMaxPerTurn:  cfg.Channels.Injection.MaxPerTurn,
		RetentionMaxAgeDays:  cfg.Storage.MaxAgeDays,
		RetentionMaxMessages: cfg.Storage.MaxMessagesPerChannel,
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without tracing", "error", err)
	}
	defer shutdownTelemetry(context.Background())

	stores, err := buildStores(cfg)
	if err != nil {
		slog.Error("failed to open channel store", "error", err)
		os.Exit(1)
	}

	manager := channels.NewManager(stores.Channels, cfg.Assistant.ID, cfg.Assistant.Name, managerConfigFrom(cfg))

	if cfg.Runtime.Endpoint == "" {
		slog.Warn("runtime.endpoint not configured, agent turns will fail until set")
	}
	factory := runtime.NewHTTPFactory(
		cfg.Runtime.Endpoint,
		cfg.Runtime.Token,
		time.Duration(cfg.Runtime.TurnTimeoutSeconds)*time.Second,
	)
	pool := channels.NewAgentPool(stores.Channels, factory, channels.PoolConfig{
		MaxRounds:   cfg.Channels.Scheduler.MaxRounds,
		StaggerMin:  cfg.Channels.Scheduler.StaggerMin(),
		StaggerMax:  cfg.Channels.Scheduler.StaggerMax(),
		SettleDelay: cfg.Channels.Scheduler.Settle(),
		Seed:        cfg.Channels.Scheduler.Seed,
	})

	eventBus := bus.NewEventBus()
	server := gateway.NewServer(cfg, manager, pool, eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gctx)
	})

	retention := channels.NewRetentionRunner(manager, cfg.Storage.CleanupSchedule)
	g.Go(func() error {
		return retention.Run(gctx)
	})

	// Hot-reload: injection and retention knobs take effect without a
	// restart. Listener and store changes need one.
	g.Go(func() error {
		return config.Watch(gctx, cfgPath, func(next *config.Config) {
			manager.SetPolicy(managerConfigFrom(next))
		})
	})

	slog.Info("coterie gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"assistant", cfg.Assistant.ID,
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
	)

	err = g.Wait()

	pool.Shutdown()

	if err != nil && err != context.Canceled {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
