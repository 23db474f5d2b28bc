package source

import (
	"context"
	"errors"
	"time"

	"codeberg.org/halvard/fieldlink/internal/sample"
)

// ErrNoData indicates a source had nothing to report this cycle. The
// scheduler skips it silently.
var ErrNoData = errors.New("no data available")

// Source is the capability interface every monitor adapter satisfies,
// regardless of the underlying device.
type Source interface {
	// SourceID identifies this adapter; it keys sequence numbering and
	// acknowledgment tracking.
	SourceID() string

	// CadenceHint returns the preferred polling interval. A hint of zero
	// or less means "poll every scheduler tick".
	CadenceHint() time.Duration

	// Capture reads one sample. It must honor ctx cancellation; the
	// scheduler bounds each call with a capture timeout. Returning
	// ErrNoData is not a fault.
	Capture(ctx context.Context) (sample.Sample, error)
}

// Seeder is implemented by sources whose sequence counter can be rebased.
// At startup the counter is seeded with the durable high-water mark so a
// restart never reuses a sequence number the collector may already have
// acknowledged.
type Seeder interface {
	SeedSeq(last uint64)
}
