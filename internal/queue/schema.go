package queue

import (
	"database/sql"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"codeberg.org/halvard/fieldlink/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS entries (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       source_id       TEXT NOT NULL,
	       seq             INTEGER NOT NULL CHECK (seq >= 0),
	       captured_at     INTEGER NOT NULL,
	       kind            INTEGER NOT NULL,
	       payload         BLOB NOT NULL,
	       enqueued_at     INTEGER NOT NULL,
	       attempts        INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
	       last_attempt_at INTEGER NOT NULL DEFAULT 0,
	       UNIQUE (source_id, seq)
	   );
	   CREATE INDEX IF NOT EXISTS idx_entries_source_seq
	       ON entries (source_id, seq);
	   CREATE TABLE IF NOT EXISTS sequences (
	       source_id TEXT PRIMARY KEY,
	       last_seq  INTEGER NOT NULL CHECK (last_seq >= 0)
	   );`

	insertEntrySQL = `
    INSERT INTO entries (
        source_id, seq, captured_at, kind, payload, enqueued_at
    ) VALUES (?, ?, ?, ?, ?, ?)`

	// The high-water mark outlives acknowledgment and eviction: restarts
	// seed source counters from it so sequence numbers are never reused.
	upsertSequenceSQL = `
    INSERT INTO sequences (source_id, last_seq) VALUES (?, ?)
    ON CONFLICT (source_id) DO UPDATE SET
        last_seq = MAX(last_seq, excluded.last_seq)`

	peekBatchSQL = `
    SELECT id, source_id, seq, captured_at, kind, payload,
           enqueued_at, attempts, last_attempt_at
    FROM entries
    ORDER BY id
    LIMIT ?`

	acknowledgeSQL = `DELETE FROM entries WHERE source_id = ? AND seq <= ?`
)

// initSchema creates a new database schema with the current version
func initSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating queue database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Queue schema initialized")

	return nil
}

// getSchemaVersion returns the current schema version
func getSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// tableExists checks if a table exists
func tableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}

// validateSchema checks the schema version and initializes a fresh database.
// A version mismatch is refused rather than migrated destructively: the
// queue holds unacknowledged data that must never be dropped by a schema
// rebuild.
func validateSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	version, err := getSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	if version == 0 {
		return initSchema(db, log)
	}

	if version != SchemaVersion {
		return errFactory.WithData(ErrSchemaVersionMismatch, struct {
			Found    int
			Expected int
		}{
			Found:    version,
			Expected: SchemaVersion,
		})
	}

	log.Debug().
		Int("version", version).
		Msg("Queue schema version is current")

	return nil
}
