package apperr

import (
	"errors"
	"fmt"
)

// Error codes shared between the engine, the clients and the HTTP surface.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeCorruptFile     = "CORRUPT_FILE"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeJobNotCompleted = "JOB_NOT_COMPLETED"

	CodeWhisperLoadFailed      = "WHISPER_LOAD_FAILED"
	CodeWhisperInferenceFailed = "WHISPER_INFERENCE_FAILED"
	CodeWhisperTimeout         = "WHISPER_TIMEOUT"

	CodeLLMUnavailable  = "LLM_UNAVAILABLE"
	CodeLLMTimeout      = "LLM_TIMEOUT"
	CodeLLMBadResponse  = "LLM_BAD_RESPONSE"
	CodeLLMModelMissing = "LLM_MODEL_MISSING"

	CodeStoreError = "STORE_ERROR"
	CodeCancelled  = "CANCELLED"
	CodeInternal   = "INTERNAL_ERROR"
)

// Error is a typed application error carrying a stable code.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a non-retryable error with the given code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a non-retryable error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Transient marks an error as retryable by the engine.
func Transient(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: true, Err: err}
}

// CodeOf extracts the application error code, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the engine may retry the failed stage.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
