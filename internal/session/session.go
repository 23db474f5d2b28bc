// Package session owns the wireless channel: it negotiates connectivity,
// drains the durable queue in batches, and demuxes inbound acknowledgments
// and commands. Backoff applies only to connection establishment, never to
// data already accepted for send.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/halvard/fieldlink/internal/command"
	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/link"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/queue"
	"codeberg.org/halvard/fieldlink/internal/sample"
	"codeberg.org/halvard/fieldlink/internal/wire"
	"github.com/google/uuid"
)

// State of the transmission session. Exactly one live session exists per
// process.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Session drives the connect/drain lifecycle against the durable queue.
type Session struct {
	cfg        Config
	link       link.Link
	queue      *queue.Queue
	dispatcher *command.Dispatcher
	log        logger.Logger

	state   atomic.Int32
	kick    chan struct{}
	batchID atomic.Uint64
}

func New(cfg Config, lnk link.Link, q *queue.Queue, d *command.Dispatcher, log logger.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	// Zero durations fall back to defaults; a zero DrainGrace would make
	// shutdown close the conn before any in-flight work could finish.
	if cfg.DrainGrace == 0 {
		cfg.DrainGrace = defaultDrainGrace
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	return &Session{
		cfg:        cfg,
		link:       lnk,
		queue:      q,
		dispatcher: d,
		log:        log,
		kick:       make(chan struct{}, 1),
	}, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Kick signals that new data may be available. Never blocks.
func (s *Session) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug().
			Str("from", prev.String()).
			Str("to", next.String()).
			Msg("Session state changed")
	}
}

// Run drives the session until ctx is cancelled or the link faults. Queued
// but unsent entries persist for the next process start.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0

	for ctx.Err() == nil {
		s.setState(StateConnecting)

		conn, codec, err := s.connect(ctx)
		if err != nil {
			if link.Permanent(err) {
				s.setState(StateFaulted)
				s.log.ErrorWithCode(err).Msg("Link faulted; manual intervention required")

				return err
			}
			if ctx.Err() != nil {
				break
			}

			attempt++
			delay := s.cfg.Backoff.Delay(attempt)
			s.log.Debug().
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Err(err).
				Msg("Connection attempt failed")
			s.setState(StateDisconnected)

			if !sleepCtx(ctx, delay) {
				break
			}

			continue
		}

		attempt = 0
		s.setState(StateConnected)
		s.log.Info().Str("station_id", s.cfg.StationID).Msg("Session established")

		err = s.serve(ctx, conn, codec)
		conn.Close()

		if ctx.Err() != nil {
			break
		}
		if link.Permanent(err) {
			s.setState(StateFaulted)
			s.log.ErrorWithCode(err).Msg("Link faulted; manual intervention required")

			return err
		}

		s.setState(StateDisconnected)
		if err != nil {
			s.log.Debug().Err(err).Msg("Session ended; reconnecting")
		}
	}

	s.setState(StateDisconnected)

	return nil
}

// connect dials the link and performs the Hello/HelloAck handshake, both
// under the handshake timeout.
func (s *Session) connect(ctx context.Context) (io.ReadWriteCloser, *wire.Codec, error) {
	errFactory := errors.New()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := s.link.Connect(hctx)
	if err != nil {
		if link.Permanent(err) {
			return nil, nil, err
		}

		return nil, nil, errFactory.Wrap(ErrHandshakeFailed, err)
	}

	codec := wire.NewCodec(conn, s.cfg.MaxFrameBytes)

	done := make(chan error, 1)
	go func() {
		done <- s.handshake(codec)
	}()

	select {
	case err := <-done:
		if err != nil {
			conn.Close()

			return nil, nil, err
		}

		return conn, codec, nil
	case <-hctx.Done():
		// Closing the conn unblocks the handshake read.
		conn.Close()
		<-done

		return nil, nil, errFactory.Wrap(ErrHandshakeFailed, hctx.Err())
	}
}

func (s *Session) handshake(codec *wire.Codec) error {
	errFactory := errors.New()

	hello := wire.Hello{
		StationID:  s.cfg.StationID,
		InstanceID: s.cfg.InstanceID,
		Proto:      wire.ProtoVersion,
	}
	if err := codec.WritePayload(wire.FrameHello, hello); err != nil {
		return errFactory.Wrap(ErrHandshakeFailed, err)
	}

	frame, err := codec.ReadFrame()
	if err != nil {
		return errFactory.Wrap(ErrHandshakeFailed, err)
	}
	if frame.Type != wire.FrameHelloAck {
		return errFactory.WithData(ErrHandshakeFailed, frame.Type.String())
	}

	var ack wire.HelloAck
	if err := frame.Decode(&ack); err != nil {
		return errFactory.Wrap(ErrHandshakeFailed, err)
	}
	if ack.Proto != wire.ProtoVersion {
		return errFactory.WithData(ErrProtoMismatch, ack.Proto)
	}

	return nil
}

// serve alternates between idling and draining until the link degrades or
// ctx is cancelled. The inbound reader runs concurrently the whole time:
// command receipt never blocks or is blocked by outbound draining.
func (s *Session) serve(ctx context.Context, conn io.Closer, codec *wire.Codec) error {
	acks := make(chan wire.Ack, 64)
	readErr := make(chan error, 1)

	// Shutdown watchdog: once ctx is cancelled, in-flight work gets
	// DrainGrace to finish before the conn is forced closed, unblocking
	// any stalled read or write.
	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-served:
		case <-ctx.Done():
			grace := time.NewTimer(s.cfg.DrainGrace)
			defer grace.Stop()

			select {
			case <-served:
			case <-grace.C:
				conn.Close()
			}
		}
	}()

	rctx, rcancel := context.WithCancel(context.WithoutCancel(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go s.readLoop(rctx, codec, acks, readErr, &wg)
	defer func() {
		// Cancel and close to unblock the read loop before waiting on it.
		rcancel()
		conn.Close()
		wg.Wait()
	}()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := s.queue.PeekBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			s.setState(StateConnected)

			select {
			case <-ctx.Done():
				return nil
			case <-s.kick:
			case ack := <-acks:
				s.applyAck(ctx, ack)
			case err := <-readErr:
				return err
			case <-heartbeat.C:
				if err := codec.WritePayload(wire.FrameHeartbeat, wire.NewHeartbeat()); err != nil {
					return err
				}
			}

			continue
		}

		s.setState(StateDraining)
		if err := s.transmit(ctx, codec, entries, acks, readErr); err != nil {
			return err
		}
	}
}

// transmit sends one batch and awaits cumulative acknowledgment, retrying
// the same batch up to MaxAttempts. Beyond the ceiling the entries remain
// queued and the session forces a re-handshake: repeated ack timeouts under
// an established connection indicate link degradation, not entry-specific
// failure.
func (s *Session) transmit(ctx context.Context, codec *wire.Codec, entries []queue.Entry, acks <-chan wire.Ack, readErr <-chan error) error {
	errFactory := errors.New()

	samples := make([]sample.Sample, len(entries))
	ids := make([]int64, len(entries))
	needed := make(map[string]uint64, 4)
	for i, e := range entries {
		samples[i] = e.Sample
		ids[i] = e.ID
		if e.Sample.Seq > needed[e.Sample.SourceID] {
			needed[e.Sample.SourceID] = e.Sample.Seq
		}
	}

	batch, err := wire.EncodeBatch(s.batchID.Add(1), samples)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		if err := s.queue.MarkAttempt(ctx, ids); err != nil {
			return err
		}

		if err := codec.WritePayload(wire.FrameBatch, batch); err != nil {
			return err
		}

		s.log.Debug().
			Uint64("batch_id", batch.BatchID).
			Int("samples", batch.Count).
			Int("attempt", attempt).
			Msg("Batch transmitted")

		covered, err := s.awaitAcks(ctx, needed, acks, readErr)
		if err != nil {
			return err
		}
		if covered {
			return nil
		}

		if attempt >= s.cfg.MaxAttempts {
			s.log.Warn().
				Uint64("batch_id", batch.BatchID).
				Int("attempts", attempt).
				Msg("Batch acknowledgment timed out repeatedly; forcing re-handshake")

			return errFactory.New(ErrBatchAckTimeout)
		}
	}
}

// awaitAcks consumes acknowledgments until every source in needed is covered
// or the batch-ack timeout fires. Partial acks are applied to the queue
// immediately. On shutdown, in-flight waiting continues up to DrainGrace.
func (s *Session) awaitAcks(ctx context.Context, needed map[string]uint64, acks <-chan wire.Ack, readErr <-chan error) (bool, error) {
	pending := make(map[string]uint64, len(needed))
	for src, seq := range needed {
		pending[src] = seq
	}

	timeout := time.NewTimer(s.cfg.BatchAckTimeout)
	defer timeout.Stop()

	var grace <-chan time.Time
	done := ctx.Done()

	for len(pending) > 0 {
		select {
		case ack := <-acks:
			s.applyAck(ctx, ack)
			if want, ok := pending[ack.SourceID]; ok && ack.UpToSeq >= want {
				delete(pending, ack.SourceID)
			}
		case err := <-readErr:
			return false, err
		case <-timeout.C:
			return false, nil
		case <-done:
			done = nil
			grace = time.After(s.cfg.DrainGrace)
		case <-grace:
			return false, ctx.Err()
		}
	}

	return true, nil
}

func (s *Session) applyAck(ctx context.Context, ack wire.Ack) {
	removed, err := s.queue.Acknowledge(context.WithoutCancel(ctx), ack.SourceID, ack.UpToSeq)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("source_id", ack.SourceID).
			Uint64("up_to_seq", ack.UpToSeq).
			Msg("Failed to apply acknowledgment")

		return
	}

	s.log.Debug().
		Str("source_id", ack.SourceID).
		Uint64("up_to_seq", ack.UpToSeq).
		Int64("removed", removed).
		Msg("Acknowledgment applied")
}

// readLoop demuxes inbound frames: acks to the drain loop, commands to the
// dispatcher. The channel is full duplex; reading never waits on sends.
func (s *Session) readLoop(ctx context.Context, codec *wire.Codec, acks chan<- wire.Ack, readErr chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}

			return
		}

		switch frame.Type {
		case wire.FrameAck:
			var ack wire.Ack
			if err := frame.Decode(&ack); err != nil {
				s.log.Warn().Err(err).Msg("Malformed acknowledgment frame")

				continue
			}
			select {
			case acks <- ack:
			case <-ctx.Done():
				return
			}
		case wire.FrameCommand:
			var cmd wire.Command
			if err := frame.Decode(&cmd); err != nil {
				s.log.Warn().Err(err).Msg("Malformed command frame")

				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()

				result := s.dispatcher.Dispatch(ctx, cmd)
				if err := codec.WritePayload(wire.FrameCommandResult, result); err != nil {
					s.log.Debug().Err(err).Msg("Failed to report command result")
				}
			}()
		case wire.FrameHeartbeat:
			// Collector keepalive; nothing to do.
		default:
			s.log.Debug().Str("type", frame.Type.String()).Msg("Unexpected frame type")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
