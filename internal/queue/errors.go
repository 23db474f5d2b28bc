package queue

import "codeberg.org/halvard/fieldlink/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("queue_invalid_db_path")
	ErrInvalidPolicy = errors.ErrorCode("queue_invalid_policy")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("queue_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("queue_schema_validation_failed")
	ErrSchemaVersionMismatch  = errors.ErrorCode("queue_schema_version_mismatch")
	ErrTransactionFailed      = errors.ErrorCode("queue_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("queue_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Operation Errors
	ErrFull           = errors.ErrQueueFull
	ErrDuplicateEntry = errors.ErrorCode("queue_duplicate_entry")
)
