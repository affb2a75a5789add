package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// World errors
	CodeWorldNameEmpty      Code = "WORLD_NAME_EMPTY"
	CodeWorldIDEmpty        Code = "WORLD_ID_EMPTY"
	CodeWorldVersionInvalid Code = "WORLD_VERSION_INVALID"

	// Validation errors
	CodeDuplicateElementID    Code = "DUPLICATE_ELEMENT_ID"
	CodeDuplicateBranchID     Code = "DUPLICATE_BRANCH_ID"
	CodeMissingElementID      Code = "MISSING_ELEMENT_ID"
	CodeMissingBranchID       Code = "MISSING_BRANCH_ID"
	CodeDanglingRelationship  Code = "DANGLING_RELATIONSHIP"
	CodeDanglingBranchElement Code = "DANGLING_BRANCH_ELEMENT"
	CodeNoActiveBranch        Code = "NO_ACTIVE_BRANCH"
	CodeActiveBranchNotFound  Code = "ACTIVE_BRANCH_NOT_FOUND"
	CodeNonFinitePosition     Code = "NON_FINITE_POSITION"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeTransactionFailed  Code = "TRANSACTION_FAILED"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"

	// Codec errors
	CodeUnknownAlgorithm    Code = "UNKNOWN_ALGORITHM"
	CodeBaselineUnavailable Code = "BASELINE_UNAVAILABLE"
	CodeCorruptPayload      Code = "CORRUPT_PAYLOAD"

	// Sync errors
	CodeSyncInFlight       Code = "SYNC_IN_FLIGHT"
	CodeSyncNetworkFailure Code = "SYNC_NETWORK_FAILURE"
	CodeSyncManualRequired Code = "SYNC_MANUAL_RESOLUTION_REQUIRED"
	CodeSyncTimeout        Code = "SYNC_TIMEOUT"
	CodeRemoteAbsent       Code = "REMOTE_ABSENT"

	// Recovery errors
	CodeChecksumMismatch   Code = "CHECKSUM_MISMATCH"
	CodeBackupNotFound     Code = "BACKUP_NOT_FOUND"
	CodeBackupRefused      Code = "BACKUP_REFUSED"
	CodeRepairNotPossible  Code = "REPAIR_NOT_POSSIBLE"
	CodeUnrecoverableWorld Code = "UNRECOVERABLE_WORLD"

	// Export/import errors
	CodeUnsupportedFormat    Code = "UNSUPPORTED_EXPORT_FORMAT"
	CodeIncompatibleEnvelope Code = "INCOMPATIBLE_ENVELOPE"
	CodeSchemaInvalid        Code = "SCHEMA_INVALID"
	CodeImportSkipped        Code = "IMPORT_SKIPPED"
	CodeImportPromptRequired Code = "IMPORT_PROMPT_REQUIRED"
)
