package errors

// Code represents an error code
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"           // Unknown error occurred
	CodeInvalidParameter Code = "INVALID_PARAMETER" // Invalid parameter provided
	CodeNotFound         Code = "NOT_FOUND"         // Resource not found
	CodeIoError          Code = "IO_ERROR"          // Input/output operation failed
	CodeFileNotFound     Code = "FILE_NOT_FOUND"    // File not found

	// Oracle transport and schema codes
	CodeOracleUnreachable Code = "ORACLE_UNREACHABLE" // AI oracle could not be reached
	CodeRateLimited       Code = "RATE_LIMITED"       // AI oracle rejected the call for rate limiting
	CodeSchemaInvalid     Code = "SCHEMA_INVALID"     // Oracle response failed schema validation

	// Execution codes recorded per step
	CodeHintNotFound        Code = "HINT_NOT_FOUND"        // Target element could not be located
	CodeTimeout             Code = "TIMEOUT"               // Step execution timed out
	CodeInputFailed         Code = "INPUT_FAILED"          // Keystroke or text input failed
	CodeExecutionFailed     Code = "EXECUTION_FAILED"      // UI probe reported a failure
	CodeAppActivationFailed Code = "APP_ACTIVATION_FAILED" // Target app could not be activated

	// Verification and safety codes
	CodeVerificationUnavailable Code = "VERIFICATION_UNAVAILABLE" // Image comparison had no signal
	CodeSkippedDangerous        Code = "SKIPPED_DANGEROUS"        // User declined a dangerous-app step

	// Startup codes, the only fatal ones
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID" // Configuration invalid
	CodeMissingAPIKey        Code = "MISSING_API_KEY"       // Oracle invoked without its API key
	CodeWatchDirUnreadable   Code = "WATCH_DIR_UNREADABLE"  // Watch directory missing or unreadable
	CodeStoreDirUnwritable   Code = "STORE_DIR_UNWRITABLE"  // Store directory could not be created
)
