package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "PHE1001"
	ErrCodeConnectionTimeout    ErrorCode = "PHE1002"
	ErrCodeAuthenticationFailed ErrorCode = "PHE1003"
	ErrCodeNetworkUnavailable   ErrorCode = "PHE1004"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound  ErrorCode = "PHE2001"
	ErrCodeConfigInvalid   ErrorCode = "PHE2002"
	ErrCodeConfigMissing   ErrorCode = "PHE2003"
	ErrCodeCredentials     ErrorCode = "PHE2004"
	ErrCodeCatalogInvalid  ErrorCode = "PHE2005"

	// Warehouse errors (4xxx)
	ErrCodeSQLSyntax         ErrorCode = "PHE4001"
	ErrCodeSQLPermission     ErrorCode = "PHE4002"
	ErrCodeSQLTimeout        ErrorCode = "PHE4003"
	ErrCodeSQLTransaction    ErrorCode = "PHE4004"
	ErrCodeSQLObjectNotFound ErrorCode = "PHE4005"
	ErrCodeQueryFailed       ErrorCode = "PHE4006"
	ErrCodeLoadFailed        ErrorCode = "PHE4010"

	// File system and input data errors (5xxx)
	ErrCodeFileNotFound   ErrorCode = "PHE5001"
	ErrCodeFilePermission ErrorCode = "PHE5002"
	ErrCodeParseFailed    ErrorCode = "PHE5003"
	ErrCodeFileOperation  ErrorCode = "PHE5005"

	// Validation errors (6xxx)
	ErrCodeValidationFailed ErrorCode = "PHE6001"
	ErrCodeInvalidInput     ErrorCode = "PHE6002"
	ErrCodeNoDates          ErrorCode = "PHE6003"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "PHE9001"
	ErrCodeTimeout            ErrorCode = "PHE9002"
	ErrCodeServiceUnavailable ErrorCode = "PHE9004"
	ErrCodeMaxRetriesExceeded ErrorCode = "PHE9007"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // Run cannot start or continue
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, run continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Short returns the code and message without cause chain or suggestions.
// Used where a single line is needed, such as summary tables.
func (e *AppError) Short() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, Summarize(e.Cause))
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// Inherit context and recoverability from a wrapped AppError
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
		appErr.Recoverable = ae.Recoverable
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error. Connection failures are
// transient from the pipeline's point of view and are marked recoverable.
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityError).
		WithSuggestions(
			"Check your network connection",
			"Verify the warehouse endpoint is accessible",
		).
		AsRecoverable()
}

// AuthError creates an authentication error for missing, malformed or rejected credentials
func AuthError(message string, cause error) *AppError {
	var err *AppError
	if cause == nil {
		err = New(ErrCodeAuthenticationFailed, message)
	} else {
		err = Wrap(cause, ErrCodeAuthenticationFailed, message)
	}
	err.Recoverable = false
	return err.WithSeverity(SeverityCritical).
		WithSuggestions(
			"Verify the credentials file referenced by PARCELHUB_CREDENTIALS_PATH",
			"Check that the warehouse user is not locked",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			fmt.Sprintf("Set PARCELHUB_%s in the environment or the env file", strings.ToUpper(field)),
		)
}

// PathNotFound creates an error for an expected input file that is absent
func PathNotFound(path string, cause error) *AppError {
	err := New(ErrCodeFileNotFound, fmt.Sprintf("Input file not found: %s", path)).
		WithContext("path", path)
	err.Cause = cause
	return err
}

// ParseError creates an error for malformed CSV or JSON input
func ParseError(path string, line int, cause error) *AppError {
	return Wrap(cause, ErrCodeParseFailed, fmt.Sprintf("Failed to parse %s", path)).
		WithContext("path", path).
		WithContext("line", line)
}

// LoadError creates an error for a rejected table load
func LoadError(table string, cause error) *AppError {
	return Wrap(cause, ErrCodeLoadFailed, fmt.Sprintf("Failed to load table %s", table)).
		WithContext("table", table)
}

// SQLError creates an SQL execution error
func SQLError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeQueryFailed, message).
		WithContext("query", truncateString(query, 200))

	errStr := strings.ToLower(message)
	if cause != nil {
		errStr += " " + strings.ToLower(cause.Error())
	}

	switch {
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "insufficient privileges"):
		err.Code = ErrCodeSQLPermission
		_ = err.WithSuggestions(
			"Check user permissions in the warehouse",
			"Verify the role has required privileges",
		)
	case strings.Contains(errStr, "does not exist") || strings.Contains(errStr, "not found"):
		err.Code = ErrCodeSQLObjectNotFound
		_ = err.WithSuggestions(
			"Verify the object exists in the target dataset",
			"Check that ingestion ran for this processing date",
		)
	case strings.Contains(errStr, "syntax error"):
		err.Code = ErrCodeSQLSyntax
		_ = err.WithSuggestions("Check SQL syntax near the error location")
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase PARCELHUB_QUERY_TIMEOUT",
			"Check warehouse size",
		)
	}

	return err
}

// QueryError wraps a failed script execution
func QueryError(script string, cause error) *AppError {
	return Wrap(cause, ErrCodeQueryFailed, fmt.Sprintf("Failed to execute %s", script)).
		WithContext("script", script)
}

// InvalidInput creates an error for rejected user input
func InvalidInput(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s %q: %s", field, fmt.Sprint(value), reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityCritical)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any AppError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if ae, ok := err.(*AppError); ok && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Summarize returns a one-line description of err
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Short()
	}
	return err.Error()
}

// truncateString truncates a string to maxLen runes
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
