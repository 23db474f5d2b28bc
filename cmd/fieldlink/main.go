package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/halvard/fieldlink/internal/command"
	"codeberg.org/halvard/fieldlink/internal/config"
	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/link"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/pid"
	"codeberg.org/halvard/fieldlink/internal/queue"
	"codeberg.org/halvard/fieldlink/internal/scheduler"
	"codeberg.org/halvard/fieldlink/internal/session"
	"codeberg.org/halvard/fieldlink/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	if err := run(cfg); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	policy, err := queue.ParsePolicy(cfg.QueuePolicy)
	if err != nil {
		return err
	}

	q, err := queue.Open(queue.Config{
		DBPath:       cfg.Database,
		MaxEntries:   cfg.QueueMaxEntries,
		MaxBytes:     cfg.QueueMaxBytes,
		MaxPerSource: cfg.QueueMaxPerSource,
		Policy:       policy,
	}, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close queue")
		}
	}()

	dispatcher := command.NewDispatcher(cfg.CommandWindow, logger.Default())
	if err := registerHandlers(dispatcher, q); err != nil {
		return err
	}

	sessCfg := session.DefaultConfig(cfg.StationID)
	sessCfg.BatchSize = cfg.BatchSize
	sessCfg.MaxAttempts = cfg.MaxAttempts
	sessCfg.HandshakeTimeout = time.Duration(cfg.HandshakeTimeout) * time.Second
	sessCfg.BatchAckTimeout = time.Duration(cfg.BatchAckTimeout) * time.Second
	sessCfg.HeartbeatInterval = time.Duration(cfg.HeartbeatInterval) * time.Second
	sessCfg.DrainGrace = time.Duration(cfg.DrainGrace) * time.Second
	sessCfg.Backoff.Min = time.Duration(cfg.BackoffMin) * time.Second
	sessCfg.Backoff.Max = time.Duration(cfg.BackoffMax) * time.Second

	uplink := &link.TCPLink{
		Addr:    cfg.Collector,
		Timeout: sessCfg.HandshakeTimeout,
	}

	sess, err := session.New(sessCfg, uplink, q, dispatcher, logger.Default())
	if err != nil {
		return err
	}

	registry := source.NewRegistry()
	if err := registry.Register(source.NewHeartbeat("heartbeat", time.Duration(cfg.HeartbeatInterval)*time.Second)); err != nil {
		return err
	}

	// Rebase sequence counters from the durable high-water marks so a
	// restart never reuses a sequence number.
	for _, src := range registry.Sources() {
		seeder, ok := src.(source.Seeder)
		if !ok {
			continue
		}

		last, err := q.LastSeq(ctx, src.SourceID())
		if err != nil {
			return err
		}
		seeder.SeedSeq(last)
	}

	sched, err := scheduler.New(scheduler.Config{
		TickInterval:   time.Duration(cfg.Interval) * time.Second,
		CaptureTimeout: time.Duration(cfg.CaptureTimeout) * time.Second,
	}, registry, q, sess, logger.Default())
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	return sess.Run(ctx)
}

func registerHandlers(d *command.Dispatcher, q *queue.Queue) error {
	handlers := []command.Handler{
		command.HandlerFunc("ping", func(_ context.Context, _ map[string]any) error {
			return nil
		}),
		command.HandlerFunc("set-log-level", func(_ context.Context, args map[string]any) error {
			level, ok := args["level"].(string)
			if !ok {
				return errors.New().WithMessage(errors.ErrInvalidArgument, "missing level argument")
			}

			return logger.SetLogLevel(level)
		}),
		command.HandlerFunc("queue-stats", func(ctx context.Context, _ map[string]any) error {
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}

			logger.Info().
				Int64("entries", stats.Entries).
				Int64("payload_bytes", stats.PayloadBytes).
				Uint64("evictions", stats.Evictions).
				Msg("Queue stats requested by collector")

			return nil
		}),
	}

	for _, h := range handlers {
		if err := d.Register(h); err != nil {
			return err
		}
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
