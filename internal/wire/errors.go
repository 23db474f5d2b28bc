package wire

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	ErrEncodeFailed  = errors.ErrorCode("wire_encode_failed")
	ErrDecodeFailed  = errors.ErrorCode("wire_decode_failed")
	ErrFrameTooLarge = errors.ErrorCode("wire_frame_too_large")
	ErrShortWrite    = errors.ErrorCode("wire_short_write")
)
