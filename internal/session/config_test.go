package session

import (
	"testing"
	"time"

	"codeberg.org/halvard/fieldlink/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNegativeDurations(t *testing.T) {
	cfg := DefaultConfig("station-1")
	cfg.DrainGrace = -time.Second
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig("station-1")
	cfg.HeartbeatInterval = -time.Second
	require.Error(t, cfg.Validate())
}

func TestNewDefaultsZeroDurations(t *testing.T) {
	cfg := DefaultConfig("station-1")
	cfg.DrainGrace = 0
	cfg.HeartbeatInterval = 0

	s, err := New(cfg, nil, nil, nil, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, defaultDrainGrace, s.cfg.DrainGrace)
	assert.Equal(t, defaultHeartbeatInterval, s.cfg.HeartbeatInterval)
}
