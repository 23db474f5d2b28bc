package session

import (
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/google/uuid"
)

const (
	defaultBatchSize         = 64
	defaultMaxAttempts       = 3
	defaultHandshakeTimeout  = 10 * time.Second
	defaultBatchAckTimeout   = 15 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultDrainGrace        = 5 * time.Second
)

type Config struct {
	// StationID identifies this client to the collector.
	StationID string

	// InstanceID distinguishes restarts; defaults to a random UUID.
	InstanceID string

	// BatchSize bounds how many entries one batch frame carries.
	BatchSize int

	// MaxAttempts bounds retransmissions of the same batch under an
	// established connection before forcing a re-handshake.
	MaxAttempts int

	// MaxFrameBytes bounds inbound frame size; zero uses the wire default.
	MaxFrameBytes int

	HandshakeTimeout  time.Duration
	BatchAckTimeout   time.Duration
	HeartbeatInterval time.Duration

	// DrainGrace bounds how long a shutdown waits for in-flight work.
	DrainGrace time.Duration

	Backoff Backoff
}

func DefaultConfig(stationID string) Config {
	return Config{
		StationID:         stationID,
		InstanceID:        uuid.NewString(),
		BatchSize:         defaultBatchSize,
		MaxAttempts:       defaultMaxAttempts,
		HandshakeTimeout:  defaultHandshakeTimeout,
		BatchAckTimeout:   defaultBatchAckTimeout,
		HeartbeatInterval: defaultHeartbeatInterval,
		DrainGrace:        defaultDrainGrace,
		Backoff:           DefaultBackoff(),
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.StationID == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "station ID must not be empty")
	}
	if c.BatchSize <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "batch size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "max attempts must be positive")
	}
	if c.HandshakeTimeout <= 0 || c.BatchAckTimeout <= 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}
	if c.DrainGrace < 0 || c.HeartbeatInterval < 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}
	if c.Backoff.Min <= 0 || c.Backoff.Max < c.Backoff.Min {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "backoff bounds are inconsistent")
	}

	return nil
}
