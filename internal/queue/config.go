package queue

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/fieldlink/queue.db"

	defaultMaxEntries   = 50000
	defaultMaxBytes     = 32 << 20
	defaultMaxPerSource = 10000
)

// Policy controls behavior when a budget is exceeded.
type Policy uint8

const (
	// PolicyRejectNewest refuses the incoming sample. Default: older
	// unacknowledged data is not silently discarded for fresher data.
	PolicyRejectNewest Policy = iota

	// PolicyEvictOldest drops the oldest queued entries to make room.
	// Every eviction is logged and counted so loss stays observable.
	PolicyEvictOldest
)

func (p Policy) String() string {
	switch p {
	case PolicyRejectNewest:
		return "reject-newest"
	case PolicyEvictOldest:
		return "evict-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject-newest":
		return PolicyRejectNewest, nil
	case "evict-oldest":
		return PolicyEvictOldest, nil
	default:
		return PolicyRejectNewest, errors.New().WithData(ErrInvalidPolicy, s)
	}
}

type Config struct {
	DBPath       string
	MaxEntries   int64
	MaxBytes     int64
	MaxPerSource int64
	Policy       Policy
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		MaxEntries:   defaultMaxEntries,
		MaxBytes:     defaultMaxBytes,
		MaxPerSource: defaultMaxPerSource,
		Policy:       PolicyRejectNewest,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.MaxEntries < 0 || c.MaxBytes < 0 || c.MaxPerSource < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "queue budgets must not be negative")
	}

	return nil
}
