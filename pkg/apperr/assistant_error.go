// Package apperr defines the structured error taxonomy shared by all adapters
// and services. Every external failure is mapped to one of these codes so the
// retry layers can decide transient-vs-permanent without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes
const (
	// Provider errors
	CodeAuthExpired      = "AUTH_EXPIRED"      // recoverable via token refresh
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"    // transient, carries retry-after
	CodeServerError      = "SERVER_ERROR"      // transient 5xx
	CodeRateLimited      = "RATE_LIMITED"      // transient 429
	CodeInvalidRequest   = "INVALID_REQUEST"   // permanent 400
	CodeNotFound         = "NOT_FOUND"         // permanent 404
	CodeRecipientInvalid = "RECIPIENT_INVALID" // permanent: bad send target
	CodeMessageTooLarge  = "MESSAGE_TOO_LARGE" // permanent 413

	// Chat errors
	CodeChatBlocked = "CHAT_BLOCKED" // permanent per chat (user blocked the bot)

	// Generic errors
	CodeNetworkError    = "NETWORK_ERROR"    // transient
	CodeValidationError = "VALIDATION_ERROR" // permanent per attempt
	CodeContextFatal    = "CONTEXT_FATAL"    // thread fetch failed during context assembly
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeConfigError     = "CONFIG_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
)

// transientCodes are retried with backoff; everything else is permanent.
var transientCodes = map[string]bool{
	CodeQuotaExceeded: true,
	CodeServerError:   true,
	CodeRateLimited:   true,
	CodeNetworkError:  true,
}

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Status     int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter time.Duration  `json:"-"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// Transient reports whether the error is worth retrying.
func (e *AppError) Transient() bool {
	return transientCodes[e.Code]
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Provider errors

func AuthExpired(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthExpired,
		Message: fmt.Sprintf("%s credentials expired", provider),
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func QuotaExceeded(service string, retryAfter time.Duration, err error) *AppError {
	return &AppError{
		Code:       CodeQuotaExceeded,
		Message:    fmt.Sprintf("%s quota exceeded", service),
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func ServerError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeServerError,
		Message: fmt.Sprintf("%s server error", service),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func RateLimited(service string, err error) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("%s rate limited", service),
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

func InvalidRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInvalidRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func RecipientInvalid(recipient string, err error) *AppError {
	return &AppError{
		Code:    CodeRecipientInvalid,
		Message: fmt.Sprintf("invalid recipient: %s", recipient),
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func MessageTooLarge(err error) *AppError {
	return &AppError{
		Code:    CodeMessageTooLarge,
		Message: "message exceeds provider size limit",
		Status:  http.StatusRequestEntityTooLarge,
		Err:     err,
	}
}

// Chat errors

func ChatBlocked(chatID int64, err error) *AppError {
	return &AppError{
		Code:    CodeChatBlocked,
		Message: fmt.Sprintf("chat %d blocked the bot", chatID),
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

// Generic errors

func NetworkError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeNetworkError,
		Message: fmt.Sprintf("network error calling %s", service),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func ContextFatal(err error) *AppError {
	return &AppError{
		Code:    CodeContextFatal,
		Message: "thread history fetch failed",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Helper functions

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsTransient reports whether err should be retried with backoff.
// Unknown (non-AppError) errors are treated as transient so that network
// hiccups wrapped by client libraries still get retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Transient()
	}
	return true
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the taxonomy code of err, or CodeInternalError for plain errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
