package command

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	ErrUnknownCommand   = errors.ErrUnknownCommand
	ErrDuplicateHandler = errors.ErrorCode("command_duplicate_handler")
	ErrHandlerFailed    = errors.ErrorCode("command_handler_failed")
)
