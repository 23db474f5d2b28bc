package source

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	ErrDuplicateSource = errors.ErrorCode("source_duplicate_id")
	ErrCaptureFailed   = errors.ErrorCode("source_capture_failed")
)
