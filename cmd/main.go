package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dockpulse/internal/alert"
	"github.com/dockpulse/internal/api"
	"github.com/dockpulse/internal/config"
	"github.com/dockpulse/internal/database"
	"github.com/dockpulse/internal/docker"
	"github.com/dockpulse/internal/index"
	"github.com/dockpulse/internal/logging"
	"github.com/dockpulse/internal/logs"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/monitor"
	"github.com/dockpulse/internal/notify"
	"github.com/dockpulse/internal/optimize"
	"github.com/dockpulse/internal/storage"
	"github.com/dockpulse/internal/stream"
	"github.com/dockpulse/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close(db)

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := dockerClient.Ping(pingCtx); err != nil {
		logger.Warn("Docker daemon is not reachable yet", zap.Error(err))
	}
	cancel()

	store, err := storage.NewStore(filepath.Join(cfg.DataDir, "metrics"), logger)
	if err != nil {
		return err
	}

	alerts := alert.NewManager(logger, metrics)
	defer alerts.Close()
	subscribeNotifiers(cfg, alerts, logger)

	collector := monitor.NewCollector(dockerClient, store, alert.NewEngine(cfg.Thresholds), alerts, monitor.Config{
		Interval:        cfg.Collector.Interval,
		RetentionDays:   cfg.Collector.RetentionDays,
		CleanupInterval: cfg.Collector.CleanupInterval,
		MaxConcurrency:  cfg.Collector.MaxConcurrency,
	}, logger, metrics)

	idx := index.New(database.NewIndexMirror(db), index.Config{
		MaxTerms:     cfg.Index.MaxTerms,
		RebuildLimit: cfg.Index.RebuildLimit,
	}, logger, metrics)

	optimizer, err := optimize.NewService(idx, optimize.Config{
		LogDir:               cfg.Logs.Dir,
		CompressedDir:        cfg.Optimizer.CompressedDir,
		CompressionThreshold: cfg.Optimizer.CompressionThreshold,
		Codec:                cfg.Optimizer.Codec,
		CompressionInterval:  cfg.Optimizer.CompressionInterval,
		CacheTTL:             cfg.Optimizer.CacheTTL,
		CacheSize:            cfg.Optimizer.CacheSize,
		Retention:            time.Duration(cfg.Optimizer.RetentionDays) * 24 * time.Hour,
		RetentionInterval:    cfg.Optimizer.RetentionInterval,
	}, logger, metrics)
	if err != nil {
		return err
	}

	var logCollector *logs.Collector
	if cfg.Logs.Enabled {
		logCollector = logs.NewCollector(dockerClient, optimizer, logs.Config{
			Dir:              cfg.Logs.Dir,
			BufferSize:       cfg.Logs.BufferSize,
			FlushInterval:    cfg.Logs.FlushInterval,
			MaxFileSize:      cfg.Logs.MaxFileSize,
			RotationCount:    cfg.Logs.RotationCount,
			RotationInterval: cfg.Logs.RotationInterval,
			DiscoverInterval: cfg.Logs.DiscoverInterval,
			Backlog:          cfg.Logs.Backlog,
		}, logger, metrics)
	}

	broadcaster := stream.NewService(collector, monitor.HostReader{}, stream.Config{
		MaxClients:        cfg.WebSocket.MaxClients,
		PingInterval:      cfg.WebSocket.PingInterval,
		TimeoutMultiplier: cfg.WebSocket.TimeoutMultiplier,
		BroadcastInterval: cfg.WebSocket.BroadcastInterval,
		StatusInterval:    cfg.WebSocket.StatusInterval,
		SendBuffer:        cfg.WebSocket.SendBuffer,
	}, logger, metrics)

	deps := api.Deps{
		Monitor:  collector,
		Search:   optimizer,
		Stream:   broadcaster,
		Gatherer: reg,
	}
	if logCollector != nil {
		deps.Logs = logCollector
	}
	server := api.NewServer(deps, logger)

	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}
	if err := optimizer.Start(ctx); err != nil {
		collector.Stop()
		return fmt.Errorf("failed to start optimizer: %w", err)
	}
	if logCollector != nil {
		if err := logCollector.Start(ctx); err != nil {
			logger.Error("Log collection disabled", zap.Error(err))
			logCollector = nil
		}
	}
	broadcaster.Start(ctx)
	logger.Info("DockPulse started", zap.String("addr", cfg.Server.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		broadcaster.Stop()
		if logCollector != nil {
			logCollector.Stop()
		}
		if err := optimizer.Stop(); err != nil {
			logger.Warn("Optimizer stop failed", zap.Error(err))
		}
		collector.Stop()
		return nil
	})
	return g.Wait()
}

func subscribeNotifiers(cfg *config.Config, alerts *alert.Manager, logger *zap.Logger) {
	if slackCfg := cfg.Alert.Slack; slackCfg.Token != "" && slackCfg.Channel != "" {
		alerts.Subscribe("slack", notify.NewSlack(slackCfg.Token, slackCfg.Channel, models.ParseAlertLevel(slackCfg.MinLevel)).Notify)
		logger.Info("Slack notifications enabled", zap.String("channel", slackCfg.Channel))
	}

	if emailCfg := cfg.Alert.Email; emailCfg.SMTPHost != "" && len(emailCfg.ToReceivers) > 0 {
		email := notify.NewEmail(notify.EmailConfig{
			SMTPHost:  emailCfg.SMTPHost,
			SMTPPort:  emailCfg.SMTPPort,
			From:      emailCfg.From,
			Password:  emailCfg.Password,
			Receivers: emailCfg.ToReceivers,
		}, models.ParseAlertLevel(emailCfg.MinLevel))
		alerts.Subscribe("email", email.Notify)
		logger.Info("Email notifications enabled", zap.Int("receivers", len(emailCfg.ToReceivers)))
	}
}
