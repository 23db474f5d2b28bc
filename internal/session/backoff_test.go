package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsMonotonicallyToCap(t *testing.T) {
	b := Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink at attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max, "delay must never exceed the cap")
		prev = d
	}

	assert.Equal(t, b.Max, b.Delay(12), "delay must reach the cap")
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	b := Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.5,
	}

	for attempt := 1; attempt <= 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, b.Min)
			assert.LessOrEqual(t, d, b.Max)
		}
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Factor: 2.0}

	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-3))
}
