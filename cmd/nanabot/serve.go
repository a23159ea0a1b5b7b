package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nanabot/internal/audit"
	"nanabot/internal/bus"
	"nanabot/internal/channel"
	"nanabot/internal/config"
	"nanabot/internal/domain"
	"nanabot/internal/metrics"
	"nanabot/internal/relay"
	"nanabot/internal/transform"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Connect to Discord and start relaying",
		Long:    "Connects to the Discord gateway, relays the target channel, and serves the log ingress when enabled. Press Ctrl+C to stop.",
		RunE:    runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)

	rules, err := transform.LoadRuleFile(cfg.Relay.RulesFile, logger)
	if err != nil {
		return fmt.Errorf("transform rules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)

	var collector *metrics.MetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewMetricsCollector()
		metrics.Observe(events, collector)
		if !cfg.Ingress.Enabled {
			logger.Warn("metrics enabled but the ingress server is disabled; nothing will serve them")
		}
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()
		audit.Subscribe(events, store, func(err error) {
			logger.Warn("audit write failed", "err", err)
		})
		logger.Info("audit journal enabled", "path", cfg.Audit.DBPath)
	}

	route := cfg.Route()
	gw, err := channel.NewDiscord(channel.DiscordConfig{
		Token:               cfg.Discord.Token,
		GuildID:             cfg.Discord.GuildID,
		ResolveChannelNames: route.ID == "",
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	resolver := relay.NewResolver(relay.ResolverConfig{
		API:     gw,
		Persona: cfg.Relay.Persona,
		Timeout: cfg.CallTimeout(),
		Events:  events,
		Logger:  logger,
	})
	pipeline := relay.New(relay.Config{
		Gateway:     gw,
		Resolver:    resolver,
		Rules:       rules,
		Route:       route,
		SettleDelay: cfg.SettleDelay(),
		CallTimeout: cfg.CallTimeout(),
		Events:      events,
		Logger:      logger,
	})

	errCh := make(chan error, 2)
	running := 0

	running++
	go func() {
		errCh <- gw.Start(ctx, func(ctx context.Context, ev domain.InboundEvent) {
			pipeline.Handle(ctx, ev)
		})
	}()

	if cfg.Ingress.Enabled {
		var limiter *channel.RateLimiter
		if cfg.Ingress.RateLimitPerMinute > 0 {
			limiter = channel.NewRateLimiter(cfg.Ingress.Burst, float64(cfg.Ingress.RateLimitPerMinute))
		}
		bridgeCfg := channel.LogBridgeConfig{
			Addr:         cfg.Addr(),
			LogChannelID: cfg.LogRoute().ID,
			Secret:       cfg.Ingress.Secret,
			MaxBodyBytes: cfg.Ingress.MaxBodyBytes,
			CallTimeout:  cfg.CallTimeout(),
			Sender:       gw,
			Limiter:      limiter,
			Events:       events,
			Logger:       logger,
		}
		if collector != nil {
			bridgeCfg.MetricsPath = cfg.Metrics.Path
			bridgeCfg.Metrics = collector.Handler()
		}
		bridge := channel.NewLogBridge(bridgeCfg)

		running++
		go func() { errCh <- bridge.Start(ctx) }()
	} else {
		logger.Info("log ingress disabled")
	}

	logger.Info("nanabot started. Press Ctrl+C to stop.",
		"version", version,
		"route", route.String(),
		"persona", resolver.Persona(),
		"rules", rules.Len(),
	)

	// A component failing before shutdown takes the process down.
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		running--
		runErr = err
		stop()
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	deadline := time.After(shutdownTimeout)
	for ; running > 0; running-- {
		select {
		case err := <-errCh:
			if err != nil {
				logger.Warn("component stopped with error", "err", err)
			}
		case <-deadline:
			logger.Warn("shutdown timed out, forcing exit")
			return fmt.Errorf("shutdown timed out")
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
