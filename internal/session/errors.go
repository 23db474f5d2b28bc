package session

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	ErrHandshakeFailed = errors.ErrHandshakeFailed
	ErrBatchAckTimeout = errors.ErrBatchAckTimeout
	ErrFaulted         = errors.ErrLinkFaulted
	ErrProtoMismatch   = errors.ErrorCode("session_proto_mismatch")
)
