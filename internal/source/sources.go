package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/sample"
)

// HeartbeatSource emits process uptime in seconds. It doubles as a liveness
// beacon: the collector can detect a silent station by a missing heartbeat
// stream.
type HeartbeatSource struct {
	id      string
	cadence time.Duration
	started time.Time
	seq     atomic.Uint64
}

func NewHeartbeat(id string, cadence time.Duration) *HeartbeatSource {
	return &HeartbeatSource{
		id:      id,
		cadence: cadence,
		started: time.Now(),
	}
}

func (h *HeartbeatSource) SourceID() string {
	return h.id
}

func (h *HeartbeatSource) CadenceHint() time.Duration {
	return h.cadence
}

// SeedSeq rebases the counter; the next capture emits last+1.
func (h *HeartbeatSource) SeedSeq(last uint64) {
	h.seq.Store(last)
}

func (h *HeartbeatSource) Capture(_ context.Context) (sample.Sample, error) {
	now := time.Now()

	return sample.NewNumeric(h.id, h.seq.Add(1), now, now.Sub(h.started).Seconds())
}

// ReadCounterFunc reads a monotonically increasing hardware counter, e.g. a
// tipping-bucket rain gauge.
type ReadCounterFunc func(ctx context.Context) (uint64, error)

// CounterSource derives a per-second rate from a monotonic counter. The
// first capture establishes the baseline and reports no data.
type CounterSource struct {
	id      string
	cadence time.Duration
	read    ReadCounterFunc

	mu     sync.Mutex
	primed bool
	last   uint64
	lastAt time.Time
	seq    uint64
}

func NewCounter(id string, cadence time.Duration, read ReadCounterFunc) *CounterSource {
	return &CounterSource{
		id:      id,
		cadence: cadence,
		read:    read,
	}
}

func (c *CounterSource) SourceID() string {
	return c.id
}

func (c *CounterSource) CadenceHint() time.Duration {
	return c.cadence
}

// SeedSeq rebases the counter; the next emitted rate carries last+1.
func (c *CounterSource) SeedSeq(last uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = last
}

func (c *CounterSource) Capture(ctx context.Context) (sample.Sample, error) {
	count, err := c.read(ctx)
	if err != nil {
		return sample.Sample{}, errors.New().Wrap(ErrCaptureFailed, err)
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.primed {
		c.primed = true
		c.last = count
		c.lastAt = now

		return sample.Sample{}, ErrNoData
	}

	elapsed := now.Sub(c.lastAt).Seconds()
	if elapsed <= 0 {
		return sample.Sample{}, ErrNoData
	}

	// Counter wrap or device reset: re-prime rather than report a
	// negative rate.
	if count < c.last {
		c.last = count
		c.lastAt = now

		return sample.Sample{}, ErrNoData
	}

	rate := float64(count-c.last) / elapsed
	c.last = count
	c.lastAt = now
	c.seq++

	return sample.NewNumeric(c.id, c.seq, now, rate)
}

// ReadGaugeFunc reads an instantaneous value, e.g. an analog soil moisture
// channel.
type ReadGaugeFunc func(ctx context.Context) (float64, error)

// GaugeSource wraps any instantaneous reading as a numeric source.
type GaugeSource struct {
	id      string
	cadence time.Duration
	read    ReadGaugeFunc
	seq     atomic.Uint64
}

func NewGauge(id string, cadence time.Duration, read ReadGaugeFunc) *GaugeSource {
	return &GaugeSource{
		id:      id,
		cadence: cadence,
		read:    read,
	}
}

func (g *GaugeSource) SourceID() string {
	return g.id
}

func (g *GaugeSource) CadenceHint() time.Duration {
	return g.cadence
}

// SeedSeq rebases the counter; the next capture emits last+1.
func (g *GaugeSource) SeedSeq(last uint64) {
	g.seq.Store(last)
}

func (g *GaugeSource) Capture(ctx context.Context) (sample.Sample, error) {
	value, err := g.read(ctx)
	if err != nil {
		return sample.Sample{}, errors.New().Wrap(ErrCaptureFailed, err)
	}

	return sample.NewNumeric(g.id, g.seq.Add(1), time.Now(), value)
}
