// Package scheduler drives the capture side of the pipeline: a fixed-period
// tick polls registered sources whose cadence has elapsed, enqueues the
// resulting samples, and nudges the transmission session. The scheduler
// holds no data; any single adapter fault leaves the others and the
// transmission path untouched.
package scheduler

import (
	"context"
	"sync"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/sample"
	"codeberg.org/halvard/fieldlink/internal/source"
)

const (
	defaultTickInterval   = time.Second
	defaultCaptureTimeout = 5 * time.Second
)

// Enqueuer accepts captured samples; satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, s sample.Sample) error
}

// Kicker is notified when new data may be available; satisfied by
// *session.Session.
type Kicker interface {
	Kick()
}

type Config struct {
	TickInterval   time.Duration
	CaptureTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   defaultTickInterval,
		CaptureTimeout: defaultCaptureTimeout,
	}
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 || c.CaptureTimeout <= 0 {
		return errors.New().New(errors.ErrInvalidInterval)
	}

	return nil
}

// Scheduler is an explicitly constructed coordinator with a start/stop
// lifecycle; multiple independent instances can coexist in one process.
type Scheduler struct {
	cfg     Config
	sources *source.Registry
	sink    Enqueuer
	kicker  Kicker
	log     logger.Logger

	mu      sync.Mutex
	nextDue map[string]time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, reg *source.Registry, sink Enqueuer, kicker Kicker, log logger.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Scheduler{
		cfg:     cfg,
		sources: reg,
		sink:    sink,
		kicker:  kicker,
		log:     log,
		nextDue: make(map[string]time.Time),
	}, nil
}

// Start launches the tick loop. It returns immediately; Stop or ctx
// cancellation ends the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New().New(errors.ErrAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx)

	s.log.Info().
		Dur("tick", s.cfg.TickInterval).
		Int("sources", s.sources.Len()).
		Msg("Scheduler started")

	return nil
}

// Stop ends the tick loop and waits for it to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick polls every source whose cadence has elapsed. One slow or broken
// source never halts the others.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	enqueued := false

	for _, src := range s.sources.Sources() {
		id := src.SourceID()

		s.mu.Lock()
		due := s.nextDue[id]
		s.mu.Unlock()

		if now.Before(due) {
			continue
		}

		cadence := src.CadenceHint()
		if cadence <= 0 {
			cadence = s.cfg.TickInterval
		}

		s.mu.Lock()
		s.nextDue[id] = now.Add(cadence)
		s.mu.Unlock()

		smp, err := s.capture(ctx, src)
		switch {
		case err == nil:
			if err := s.sink.Enqueue(ctx, smp); err != nil {
				s.log.Warn().
					Err(err).
					Str("source_id", id).
					Uint64("seq", smp.Seq).
					Msg("Enqueue rejected")

				continue
			}
			enqueued = true
		case errors.Is(err, source.ErrNoData):
			// Nothing this cycle.
		case errors.HasCode(err, errors.ErrSourceTimeout):
			s.log.Warn().
				Str("source_id", id).
				Dur("timeout", s.cfg.CaptureTimeout).
				Msg("Source capture timed out")
		default:
			s.log.Warn().
				Err(err).
				Str("source_id", id).
				Msg("Source capture failed")
		}
	}

	if enqueued && s.kicker != nil {
		s.kicker.Kick()
	}
}

// capture bounds a single Capture call with the configured timeout. The
// call runs in its own goroutine so an adapter that ignores ctx still
// cannot stall the tick loop.
func (s *Scheduler) capture(ctx context.Context, src source.Source) (sample.Sample, error) {
	errFactory := errors.New()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	type result struct {
		smp sample.Sample
		err error
	}

	ch := make(chan result, 1)
	go func() {
		smp, err := src.Capture(cctx)
		ch <- result{smp: smp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return sample.Sample{}, errFactory.Wrap(errors.ErrSourceTimeout, r.err)
		}

		return r.smp, r.err
	case <-cctx.Done():
		return sample.Sample{}, errFactory.WithData(errors.ErrSourceTimeout, src.SourceID())
	}
}
