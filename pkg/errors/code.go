package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity & Access errors
// 12000-12999: Problem & Test Data errors
// 13000-13999: Submission & Grading errors
// 14000-14999: Job & Task Queue errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Object storage errors (10400-10499)
	StorageError     ErrorCode = 10400
	ObjectNotFound   ErrorCode = 10401
	ObjectCorrupted  ErrorCode = 10402
	DownloadFailed   ErrorCode = 10403

	// ========== Identity & Access Errors (11000-11999) ==========

	TokenExpired   ErrorCode = 11000
	TokenInvalid   ErrorCode = 11001
	UserRequired   ErrorCode = 11002
	StaffOnly      ErrorCode = 11003

	// ========== Problem & Test Data Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound  ErrorCode = 12000
	ProblemIDInvalid ErrorCode = 12001

	// Test cases & data packs (12100-12199)
	TestCaseNotFound    ErrorCode = 12100
	TestCaseUnreadable  ErrorCode = 12101
	DataPackUnavailable ErrorCode = 12102
	DataPackCorrupted   ErrorCode = 12103
	ManifestInvalid     ErrorCode = 12104

	// ========== Submission & Grading Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SourceEmpty            ErrorCode = 13004
	ExecutorNotFound       ErrorCode = 13005
	ExecutorDuplicated     ErrorCode = 13006

	// Grading & sandbox (13100-13199)
	GraderSystemError   ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	SandboxError        ErrorCode = 13106
	HarnessAborted      ErrorCode = 13107

	// ========== Job & Task Queue Errors (14000-14999) ==========

	// Jobs (14000-14099)
	JobNotFound     ErrorCode = 14000
	JobCreateFailed ErrorCode = 14001
	JobInProgress   ErrorCode = 14002
	ResultNotFound  ErrorCode = 14003

	// Task queue (14100-14199)
	TaskEnqueueFailed ErrorCode = 14100
	TaskRevoked       ErrorCode = 14101
	TaskStateInvalid  ErrorCode = 14102
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Object storage
	StorageError:    "Object storage operation failed",
	ObjectNotFound:  "Object not found in storage",
	ObjectCorrupted: "Object content failed verification",
	DownloadFailed:  "Failed to download object",

	// Identity & Access
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",
	UserRequired: "User identity is required",
	StaffOnly:    "Staff role is required",

	// Problem & Test Data
	ProblemNotFound:     "Problem not found",
	ProblemIDInvalid:    "Invalid problem identifier",
	TestCaseNotFound:    "Test case not found",
	TestCaseUnreadable:  "Test case could not be read",
	DataPackUnavailable: "Test data pack is unavailable",
	DataPackCorrupted:   "Test data pack failed verification",
	ManifestInvalid:     "Test data manifest is invalid",

	// Submission & Grading
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SourceEmpty:            "Source code is empty",
	ExecutorNotFound:       "No executor registered for this language and version",
	ExecutorDuplicated:     "Executor already registered for this language and version",

	GraderSystemError:   "Grading system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	SandboxError:        "Sandbox execution failed",
	HarnessAborted:      "Test run aborted before completing all cases",

	// Job & Task Queue
	JobNotFound:     "Grading job not found",
	JobCreateFailed: "Failed to create grading job",
	JobInProgress:   "A grading job is already in progress",
	ResultNotFound:  "No grading result available",

	TaskEnqueueFailed: "Failed to enqueue grading task",
	TaskRevoked:       "Task was revoked",
	TaskStateInvalid:  "Invalid task state",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == UserRequired:
		return 401
	case c == Forbidden, c == StaffOnly:
		return 403
	case c == NotFound, c == ProblemNotFound, c == JobNotFound, c == ResultNotFound,
		c == ExecutorNotFound, c == TestCaseNotFound, c == ObjectNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == JobInProgress, c == RecordAlreadyExists, c == ExecutorDuplicated:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == SourceEmpty,
		c == CodeTooLarge, c == ProblemIDInvalid:
		return 400
	default:
		return 500
	}
}
