package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dework/config"
	"dework/core"
	"dework/core/genesis"
	"dework/gateway"
	"dework/gateway/auth"
	"dework/integrations/credit"
	"dework/integrations/identity"
	"dework/integrations/webhooks"
	"dework/native/deposit"
	"dework/observability/logging"
	telemetry "dework/observability/otel"
	"dework/services/keeper"
	"dework/storage"
	"dework/store"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("dework", cfg.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfg, *genesisFlag, logger); err != nil {
		logger.Error("dework stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, genesisOverride string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "dework",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	// Genesis is an input like the config file, so it resolves against the
	// working directory rather than DataDir.
	genesisPath := strings.TrimSpace(genesisOverride)
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	spec, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ResolvePath("chain"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	opts := []core.Option{core.WithLogger(logger), core.WithMetrics()}
	gate, closeGate, err := buildIdentityGate(cfg)
	if err != nil {
		db.Close()
		return err
	}
	defer closeGate()
	if gate != nil {
		opts = append(opts, core.WithIdentityGate(gate))
	}
	oracle, err := buildCreditOracle(cfg)
	if err != nil {
		db.Close()
		return err
	}
	if oracle != nil {
		opts = append(opts, core.WithCreditOracle(oracle))
	}
	if limit := cfg.FaucetLimit(); limit != nil {
		opts = append(opts, core.WithFaucet(limit))
		logger.Warn("development faucet enabled", slog.String("limit", limit.String()))
	}

	node, err := core.NewNode(db, spec, opts...)
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	// Close releases the database as well.
	defer node.Close()

	group, ctx := errgroup.WithContext(ctx)

	var index *store.Store
	if cfg.Store.Driver != "" {
		index, err = store.Open(cfg.Store.Driver, storeDSN(cfg))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer index.Close()
		logger.Info("receipt index opened",
			slog.String("driver", cfg.Store.Driver),
			logging.MaskField("dsn", cfg.Store.DSN))
		// The subscription only wakes the indexer; it reads the node's event log.
		wake, cancel := node.Subscribe(16)
		defer cancel()
		indexer := store.NewIndexer(index, node, logger)
		group.Go(func() error { return indexer.Run(ctx, wake) })
	}

	if endpoint := strings.TrimSpace(cfg.Notify.Endpoint); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.Notify.Secret),
			webhooks.WithRetryPolicy(cfg.Notify.MaxAttempts, 0, 0),
			webhooks.WithLogger(logging.Component(logger, "notify")))
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		defer dispatcher.Close()
		events, cancel := node.Subscribe(256)
		defer cancel()
		group.Go(func() error { return dispatcher.Forward(ctx, events, cfg.Notify.Events) })
	}

	deps := gateway.Dependencies{Node: node, Store: index, Logger: logger}
	if path := strings.TrimSpace(cfg.Gateway.RevocationPath); path != "" {
		revocations, err := auth.NewLevelDBRevocations(cfg.ResolvePath(path))
		if err != nil {
			return err
		}
		defer revocations.Close()
		deps.Revocations = revocations
		group.Go(func() error { return revocations.RunPruner(ctx, time.Hour) })
	}
	if cfg.Keeper.Enabled {
		params, err := node.Params()
		if err != nil {
			return fmt.Errorf("read params: %w", err)
		}
		k, err := keeper.New(node, params.Keeper, logger)
		if err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
		if cfg.Keeper.NoditSecret != "" {
			hook, err := keeper.NewWebhookHandler(k, cfg.Keeper.NoditSecret)
			if err != nil {
				return fmt.Errorf("keeper webhook: %w", err)
			}
			deps.KeeperHook = hook
		}
		scanner := keeper.NewScanner(k, time.Duration(cfg.Keeper.ScanIntervalSeconds)*time.Second, cfg.Keeper.SettlementsPerSecond)
		group.Go(func() error { return scanner.Run(ctx) })
	}

	server, err := gateway.NewServer(cfg.Gateway, deps)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	group.Go(func() error { return server.Run(ctx) })

	logger.Info("dework started",
		slog.String("listen", cfg.Gateway.ListenAddress),
		slog.String("venue", spec.Venue),
		slog.Bool("keeper", cfg.Keeper.Enabled))

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildIdentityGate combines the local registry and the remote verifier. A
// nil gate leaves identity unchecked.
func buildIdentityGate(cfg *config.Config) (deposit.IdentityGate, func(), error) {
	var gates identity.AnyGate
	closeFn := func() {}
	if path := strings.TrimSpace(cfg.Identity.RegistryPath); path != "" {
		registry, err := identity.OpenRegistry(cfg.ResolvePath(path), nil)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open identity registry: %w", err)
		}
		closeFn = func() { _ = registry.Close() }
		gates = append(gates, registry)
	}
	if url := strings.TrimSpace(cfg.Identity.VerifierURL); url != "" {
		client, err := identity.NewHTTPGate(identity.ClientConfig{
			BaseURL: url,
			APIKey:  cfg.Identity.APIKey,
			Timeout: time.Duration(cfg.Identity.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("identity verifier: %w", err)
		}
		gates = append(gates, client)
	}
	if len(gates) == 0 {
		return nil, closeFn, nil
	}
	return gates, closeFn, nil
}

func buildCreditOracle(cfg *config.Config) (deposit.CreditOracle, error) {
	if url := strings.TrimSpace(cfg.Credit.OracleURL); url != "" {
		oracle, err := credit.NewHTTPOracle(credit.ClientConfig{
			BaseURL: url,
			APIKey:  cfg.Credit.APIKey,
			Timeout: time.Duration(cfg.Credit.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("credit oracle: %w", err)
		}
		return oracle, nil
	}
	if path := strings.TrimSpace(cfg.Credit.StaticFile); path != "" {
		oracle, err := credit.LoadStatic(cfg.ResolvePath(path))
		if err != nil {
			return nil, fmt.Errorf("credit table: %w", err)
		}
		return oracle, nil
	}
	return nil, nil
}

// storeDSN anchors the default sqlite file under the data directory.
func storeDSN(cfg *config.Config) string {
	if cfg.Store.Driver == store.DriverSQLite {
		return cfg.ResolvePath(cfg.Store.DSN)
	}
	return cfg.Store.DSN
}
