// Package queue implements the durable staging area between capture and
// transmission: bounded, ordered per source, crash-resilient. Entries leave
// the queue only by cumulative acknowledgment or explicit eviction.
package queue

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
	"codeberg.org/halvard/fieldlink/internal/sample"
	_ "github.com/mattn/go-sqlite3"
)

// Entry wraps a queued sample with transmission bookkeeping. Attempts
// strictly increases per entry; an entry with Attempts == 0 has never left
// the queue.
type Entry struct {
	ID            int64
	Sample        sample.Sample
	EnqueuedAt    time.Time
	Attempts      int
	LastAttemptAt time.Time
}

// Stats describes the current queue occupancy. Evictions counts entries
// dropped under PolicyEvictOldest since this process started.
type Stats struct {
	Entries      int64
	PayloadBytes int64
	Evictions    uint64
}

// Queue is the durable staging buffer. Enqueue and Acknowledge mutate under
// mutual exclusion; every operation is a single transaction so a restart
// recovers the state of the last completed operation.
type Queue struct {
	db        *sql.DB
	log       logger.Logger
	cfg       Config
	mu        sync.Mutex
	evictions atomic.Uint64
}

// Open opens (or creates) the queue database at cfg.DBPath.
func Open(cfg Config, log logger.Logger) (*Queue, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// WAL journal keeps enqueue/acknowledge crash-safe points cheap.
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := validateSchema(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Str("policy", cfg.Policy.String()).
		Int64("max_entries", cfg.MaxEntries).
		Int64("max_bytes", cfg.MaxBytes).
		Int64("max_per_source", cfg.MaxPerSource).
		Msg("Durable queue opened")

	return &Queue{
		db:  db,
		log: log,
		cfg: cfg,
	}, nil
}

// Enqueue appends a sample. When a budget is exceeded the configured policy
// applies: reject-newest returns a queue_full error, evict-oldest drops
// queued entries (with an accounting event each) to make room.
func (q *Queue) Enqueue(ctx context.Context, s sample.Sample) error {
	errFactory := errors.New()

	if s.SourceID == "" {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "sample source ID must not be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				q.log.Debug().Err(err).Msg("Failed to rollback enqueue transaction")
			}
		}
	}()

	entries, payloadBytes, err := occupancyTx(ctx, tx)
	if err != nil {
		return err
	}

	var sourceEntries int64
	if q.cfg.MaxPerSource > 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entries WHERE source_id = ?`, s.SourceID,
		).Scan(&sourceEntries); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	incoming := int64(len(s.Payload))

	for q.overBudget(entries+1, payloadBytes+incoming, sourceEntries+1) {
		if q.cfg.Policy == PolicyRejectNewest {
			return errFactory.WithData(ErrFull, struct {
				SourceID string
				Seq      uint64
			}{
				SourceID: s.SourceID,
				Seq:      s.Seq,
			})
		}

		perSourceOnly := q.cfg.MaxPerSource > 0 && sourceEntries+1 > q.cfg.MaxPerSource &&
			!q.overGlobal(entries+1, payloadBytes+incoming)

		evicted, evictedSource, err := q.evictOldestTx(ctx, tx, s.SourceID, perSourceOnly)
		if err != nil {
			return err
		}

		entries--
		payloadBytes -= evicted
		if evictedSource == s.SourceID {
			sourceEntries--
		}
	}

	if _, err := tx.ExecContext(ctx, insertEntrySQL,
		s.SourceID,
		int64(s.Seq),
		s.Timestamp.UnixMicro(),
		int64(s.Kind),
		s.Payload,
		time.Now().UnixMicro(),
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errFactory.WithData(ErrDuplicateEntry, struct {
				SourceID string
				Seq      uint64
			}{
				SourceID: s.SourceID,
				Seq:      s.Seq,
			})
		}

		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if _, err := tx.ExecContext(ctx, upsertSequenceSQL, s.SourceID, int64(s.Seq)); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	q.log.Debug().
		Str("source_id", s.SourceID).
		Uint64("seq", s.Seq).
		Str("kind", s.Kind.String()).
		Msg("Sample enqueued")

	return nil
}

// PeekBatch returns up to maxN entries in enqueue order, oldest first,
// without removing them. Removal happens only on acknowledgment.
func (q *Queue) PeekBatch(ctx context.Context, maxN int) ([]Entry, error) {
	errFactory := errors.New()

	if maxN <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, peekBatchSQL, maxN)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			seq           int64
			capturedAt    int64
			kind          int64
			enqueuedAt    int64
			lastAttemptAt int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.Sample.SourceID,
			&seq,
			&capturedAt,
			&kind,
			&e.Sample.Payload,
			&enqueuedAt,
			&e.Attempts,
			&lastAttemptAt,
		); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		e.Sample.Seq = uint64(seq)
		e.Sample.Timestamp = time.UnixMicro(capturedAt)
		e.Sample.Kind = sample.PayloadKind(kind)
		e.EnqueuedAt = time.UnixMicro(enqueuedAt)
		if lastAttemptAt != 0 {
			e.LastAttemptAt = time.UnixMicro(lastAttemptAt)
		}

		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

// Acknowledge removes all entries for sourceID with seq <= upToSeq and
// returns how many were removed. Re-acknowledging an already-removed range
// is a no-op.
func (q *Queue) Acknowledge(ctx context.Context, sourceID string, upToSeq uint64) (int64, error) {
	errFactory := errors.New()

	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, acknowledgeSQL, sourceID, int64(upToSeq))
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	if removed > 0 {
		q.log.Debug().
			Str("source_id", sourceID).
			Uint64("up_to_seq", upToSeq).
			Int64("removed", removed).
			Msg("Entries acknowledged")
	}

	return removed, nil
}

// LastSeq returns the highest sequence number ever enqueued for sourceID.
// The mark survives acknowledgment, eviction, and restarts; sources seed
// their counters from it so sequence numbers are never reused.
func (q *Queue) LastSeq(ctx context.Context, sourceID string) (uint64, error) {
	errFactory := errors.New()

	var last int64
	if err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT last_seq FROM sequences WHERE source_id = ?), 0)`, sourceID,
	).Scan(&last); err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	return uint64(last), nil
}

// MarkAttempt increments the attempt counter and stamps last_attempt_at for
// the given entries in a single transaction.
func (q *Queue) MarkAttempt(ctx context.Context, ids []int64) error {
	errFactory := errors.New()

	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UnixMicro())
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := q.db.ExecContext(ctx,
		`UPDATE entries SET attempts = attempts + 1, last_attempt_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

// Stats returns the current occupancy.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	errFactory := errors.New()

	var s Stats
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM entries`,
	).Scan(&s.Entries, &s.PayloadBytes); err != nil {
		return Stats{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	s.Evictions = q.evictions.Load()

	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (q *Queue) Close() error {
	errFactory := errors.New()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := q.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	q.log.Debug().Msg("Durable queue closed")

	return nil
}

func (q *Queue) overBudget(entries, payloadBytes, sourceEntries int64) bool {
	if q.overGlobal(entries, payloadBytes) {
		return true
	}
	if q.cfg.MaxPerSource > 0 && sourceEntries > q.cfg.MaxPerSource {
		return true
	}

	return false
}

func (q *Queue) overGlobal(entries, payloadBytes int64) bool {
	if q.cfg.MaxEntries > 0 && entries > q.cfg.MaxEntries {
		return true
	}
	if q.cfg.MaxBytes > 0 && payloadBytes > q.cfg.MaxBytes {
		return true
	}

	return false
}

// evictOldestTx removes the oldest entry (scoped to sourceID when only the
// per-source budget is exceeded) and returns its payload size and source.
// The drop is logged as an accounting event; the collector will observe it
// as a sequence gap.
func (q *Queue) evictOldestTx(ctx context.Context, tx *sql.Tx, sourceID string, perSourceOnly bool) (int64, string, error) {
	errFactory := errors.New()

	query := `SELECT id, source_id, seq, LENGTH(payload) FROM entries ORDER BY id LIMIT 1`
	args := []any{}
	if perSourceOnly {
		query = `SELECT id, source_id, seq, LENGTH(payload) FROM entries WHERE source_id = ? ORDER BY id LIMIT 1`
		args = append(args, sourceID)
	}

	var (
		id      int64
		src     string
		seq     int64
		payload int64
	)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id, &src, &seq, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Budget too small to hold even the incoming sample.
			return 0, "", errFactory.New(ErrFull)
		}

		return 0, "", errFactory.Wrap(ErrStorageAccess, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return 0, "", errFactory.Wrap(ErrStorageAccess, err)
	}

	q.evictions.Add(1)
	q.log.Warn().
		Str("source_id", src).
		Int64("seq", seq).
		Msg("Entry evicted under backpressure")

	return payload, src, nil
}

func occupancyTx(ctx context.Context, tx *sql.Tx) (entries, payloadBytes int64, err error) {
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM entries`,
	).Scan(&entries, &payloadBytes); err != nil {
		return 0, 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return entries, payloadBytes, nil
}
