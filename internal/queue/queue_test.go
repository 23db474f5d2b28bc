package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/queue"
	"codeberg.org/halvard/fieldlink/internal/sample"
	"codeberg.org/halvard/fieldlink/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) queue.Config {
	t.Helper()

	cfg := queue.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "queue.db")

	return cfg
}

func openQueue(t *testing.T, cfg queue.Config) *queue.Queue {
	t.Helper()

	q, err := queue.Open(cfg, logger.Nop())
	require.NoError(t, err)

	return q
}

func numericSample(t *testing.T, sourceID string, seq uint64, value float64) sample.Sample {
	t.Helper()

	s, err := sample.NewNumeric(sourceID, seq, time.Now(), value)
	require.NoError(t, err)

	return s
}

func TestAcknowledgeRemovesUpToSequence(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, testConfig(t))
	defer q.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", seq, float64(seq))))
	}

	removed, err := q.Acknowledge(ctx, "temp-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "temp-1", entries[0].Sample.SourceID)
	assert.Equal(t, uint64(3), entries[0].Sample.Seq)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, testConfig(t))
	defer q.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", seq, float64(seq))))
	}

	_, err := q.Acknowledge(ctx, "temp-1", 2)
	require.NoError(t, err)

	removed, err := q.Acknowledge(ctx, "temp-1", 2)
	require.NoError(t, err)
	assert.Zero(t, removed, "re-acknowledging a removed range must be a no-op")

	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(3), entries[0].Sample.Seq)
}

func TestRejectNewestPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxEntries = 2
	cfg.Policy = queue.PolicyRejectNewest
	q := openQueue(t, cfg)
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 2, 2)))

	err := q.Enqueue(ctx, numericSample(t, "temp-1", 3, 3))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrQueueFull))

	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Sample.Seq)
	assert.Equal(t, uint64(2), entries[1].Sample.Seq)
}

func TestEvictOldestPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxEntries = 2
	cfg.Policy = queue.PolicyEvictOldest
	q := openQueue(t, cfg)
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 2, 2)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 3, 3)))

	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Sample.Seq)
	assert.Equal(t, uint64(3), entries[1].Sample.Seq)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Evictions, "eviction must be observable")
}

func TestPerSourceBudget(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxPerSource = 1
	q := openQueue(t, cfg)
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))

	err := q.Enqueue(ctx, numericSample(t, "temp-1", 2, 2))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrQueueFull))

	// A different source still has room.
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "rain-1", 1, 0.5)))
}

func TestRestartRecoversCommittedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	q := openQueue(t, cfg)
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 2, 2)))
	require.NoError(t, q.Close())

	q = openQueue(t, cfg)
	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "committed entries must survive restart")

	_, err = q.Acknowledge(ctx, "temp-1", 1)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q = openQueue(t, cfg)
	defer q.Close()

	entries, err = q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "acknowledged entries must not reappear after restart")
	assert.Equal(t, uint64(2), entries[0].Sample.Seq)
}

func TestMarkAttemptBookkeeping(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, testConfig(t))
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))

	entries, err := q.PeekBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].Attempts, "an entry that never left the queue has zero attempts")
	assert.True(t, entries[0].LastAttemptAt.IsZero())

	require.NoError(t, q.MarkAttempt(ctx, []int64{entries[0].ID}))
	require.NoError(t, q.MarkAttempt(ctx, []int64{entries[0].ID}))

	entries, err = q.PeekBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.False(t, entries[0].LastAttemptAt.IsZero())
}

func TestDuplicateEntryRejected(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, testConfig(t))
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))

	err := q.Enqueue(ctx, numericSample(t, "temp-1", 1, 9))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, queue.ErrDuplicateEntry))
}

func TestPeekBatchPreservesEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, testConfig(t))
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 1, 1)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "rain-1", 1, 2)))
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "temp-1", 2, 3)))

	entries, err := q.PeekBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "temp-1", entries[0].Sample.SourceID)
	assert.Equal(t, "rain-1", entries[1].Sample.SourceID)

	// Peek does not remove.
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Entries)
}

func TestLastSeqSurvivesAcknowledgeAndRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	q := openQueue(t, cfg)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, numericSample(t, "hb", seq, float64(seq))))
	}

	// Acknowledging everything empties the entries but not the mark.
	_, err := q.Acknowledge(ctx, "hb", 3)
	require.NoError(t, err)

	last, err := q.LastSeq(ctx, "hb")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	require.NoError(t, q.Close())
	q = openQueue(t, cfg)
	defer q.Close()

	last, err = q.LastSeq(ctx, "hb")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	last, err = q.LastSeq(ctx, "never-seen")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSeededCaptureContinuesAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	q := openQueue(t, cfg)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, numericSample(t, "hb", seq, float64(seq))))
	}

	require.NoError(t, q.Close())
	q = openQueue(t, cfg)
	defer q.Close()

	// A restarted process seeds its counter from the durable mark, so the
	// next capture continues at 4 instead of reusing 1.
	hb := source.NewHeartbeat("hb", time.Minute)
	last, err := q.LastSeq(ctx, "hb")
	require.NoError(t, err)
	hb.SeedSeq(last)

	smp, err := hb.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), smp.Seq)
	require.NoError(t, q.Enqueue(ctx, smp))
}

func TestStaleAckCannotRemoveSeededFreshEntries(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	q := openQueue(t, cfg)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, numericSample(t, "hb", seq, float64(seq))))
	}
	_, err := q.Acknowledge(ctx, "hb", 3)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	q = openQueue(t, cfg)
	defer q.Close()

	last, err := q.LastSeq(ctx, "hb")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, numericSample(t, "hb", last+1, 4.0)))

	// A redelivered acknowledgment from the previous run must not cover
	// the never-transmitted fresh entry.
	removed, err := q.Acknowledge(ctx, "hb", 3)
	require.NoError(t, err)
	assert.Zero(t, removed)

	entries, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, last+1, entries[0].Sample.Seq)
}
