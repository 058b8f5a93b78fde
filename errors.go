// errors.go: structured error handling for tachys
//
// This file provides coded error types using the go-errors library, so
// callers can tell serialization failures, batch failures and exhausted
// retries apart without string matching.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package tachys

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for tachys operations
const (
	// Configuration errors
	ErrCodeInvalidConfig     errors.ErrorCode = "TACHYS_INVALID_CONFIG"
	ErrCodeInvalidDispatcher errors.ErrorCode = "TACHYS_INVALID_DISPATCHER"

	// Cache errors
	ErrCodeEmptyKey            errors.ErrorCode = "TACHYS_EMPTY_KEY"
	ErrCodeSerializationFailed errors.ErrorCode = "TACHYS_SERIALIZATION_FAILED"
	ErrCodeDecodeFailed        errors.ErrorCode = "TACHYS_DECODE_FAILED"

	// Batch errors
	ErrCodeBatchExecutionFailed errors.ErrorCode = "TACHYS_BATCH_EXECUTION_FAILED"
	ErrCodeRetryExhausted       errors.ErrorCode = "TACHYS_RETRY_EXHAUSTED"
	ErrCodeMissingResponse      errors.ErrorCode = "TACHYS_MISSING_RESPONSE"
	ErrCodeBatcherClosed        errors.ErrorCode = "TACHYS_BATCHER_CLOSED"

	// Visibility errors
	ErrCodeVisibilityObserverFailed errors.ErrorCode = "TACHYS_VISIBILITY_OBSERVER_FAILED"

	// Internal errors
	ErrCodePanicRecovered errors.ErrorCode = "TACHYS_PANIC_RECOVERED"
)

// Common error messages
const (
	msgInvalidConfig            = "invalid configuration value"
	msgInvalidDispatcher        = "dispatcher function cannot be nil"
	msgEmptyKey                 = "key cannot be empty"
	msgSerializationFailed      = "value cannot be serialized for caching"
	msgDecodeFailed             = "cached payload cannot be decoded"
	msgBatchExecutionFailed     = "batch dispatch failed"
	msgRetryExhausted           = "batch dispatch failed after all retries"
	msgMissingResponse          = "dispatcher returned no response for request"
	msgBatcherClosed            = "batcher is closed"
	msgVisibilityObserverFailed = "visibility observer unavailable, treating element as visible"
	msgPanicRecovered           = "panic recovered in tachys operation"
)

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

// NewErrInvalidConfig creates an error for a rejected configuration value
func NewErrInvalidConfig(field string, value interface{}, reason string) error {
	return errors.NewWithContext(ErrCodeInvalidConfig, msgInvalidConfig, map[string]interface{}{
		"field":          field,
		"provided_value": value,
		"reason":         reason,
	})
}

// NewErrInvalidDispatcher creates an error when no dispatcher is available
func NewErrInvalidDispatcher(operation string) error {
	return errors.NewWithField(ErrCodeInvalidDispatcher, msgInvalidDispatcher, "operation", operation)
}

// =============================================================================
// CACHE ERRORS
// =============================================================================

// NewErrEmptyKey creates an error when key is empty
func NewErrEmptyKey(operation string) error {
	return errors.NewWithField(ErrCodeEmptyKey, msgEmptyKey, "operation", operation)
}

// NewErrSerialization creates an error when a value cannot be serialized or compressed
func NewErrSerialization(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeSerializationFailed, msgSerializationFailed).
		WithContext("key", key)
}

// NewErrDecode creates an error when a stored payload cannot be decoded
func NewErrDecode(key string, cause error) error {
	return errors.Wrap(cause, ErrCodeDecodeFailed, msgDecodeFailed).
		WithContext("key", key).
		WithSeverity("warning")
}

// =============================================================================
// BATCH ERRORS
// =============================================================================

// NewErrBatchExecution creates an error when the underlying dispatch fails
func NewErrBatchExecution(channel string, size int, cause error) error {
	return errors.Wrap(cause, ErrCodeBatchExecutionFailed, msgBatchExecutionFailed).
		WithContext("channel", channel).
		WithContext("batch_size", size).
		AsRetryable()
}

// NewErrRetryExhausted creates an error after the last retry failed
func NewErrRetryExhausted(channel string, attempts int, cause error) error {
	return errors.Wrap(cause, ErrCodeRetryExhausted, msgRetryExhausted).
		WithContext("channel", channel).
		WithContext("attempts", attempts)
}

// NewErrMissingResponse creates an error for a request the dispatcher did not answer
func NewErrMissingResponse(channel, requestID string) error {
	return errors.NewWithContext(ErrCodeMissingResponse, msgMissingResponse, map[string]interface{}{
		"channel":    channel,
		"request_id": requestID,
	}).AsRetryable()
}

// NewErrBatcherClosed creates an error for a submit after Close
func NewErrBatcherClosed(channel string) error {
	return errors.NewWithField(ErrCodeBatcherClosed, msgBatcherClosed, "channel", channel)
}

// =============================================================================
// VISIBILITY ERRORS
// =============================================================================

// NewErrVisibilityObserver creates an error when the host cannot observe an element
func NewErrVisibilityObserver(cause error) error {
	if cause == nil {
		return errors.NewWithField(ErrCodeVisibilityObserverFailed, msgVisibilityObserverFailed, "cause", "unknown").
			WithSeverity("warning")
	}
	return errors.Wrap(cause, ErrCodeVisibilityObserverFailed, msgVisibilityObserverFailed).
		WithSeverity("warning")
}

// =============================================================================
// INTERNAL ERRORS
// =============================================================================

// NewErrPanicRecovered creates an error when a panic is recovered
func NewErrPanicRecovered(operation string, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"operation":   operation,
		"panic_value": fmt.Sprintf("%v", panicValue),
	}).WithSeverity("critical")
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsSerializationError checks if error is a serialization error
func IsSerializationError(err error) bool {
	return errors.HasCode(err, ErrCodeSerializationFailed)
}

// IsBatchExecutionError checks if error is a failed dispatch (before retries were exhausted)
func IsBatchExecutionError(err error) bool {
	return errors.HasCode(err, ErrCodeBatchExecutionFailed)
}

// IsRetryExhausted checks if error reports an exhausted retry budget
func IsRetryExhausted(err error) bool {
	return errors.HasCode(err, ErrCodeRetryExhausted)
}

// IsEmptyKey checks if error is an empty key error
func IsEmptyKey(err error) bool {
	return errors.HasCode(err, ErrCodeEmptyKey)
}

// IsConfigError checks if error is a configuration error
func IsConfigError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeInvalidConfig || code == ErrCodeInvalidDispatcher
}

// IsBatchError checks if error came out of the batcher
func IsBatchError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrCodeBatchExecutionFailed || code == ErrCodeRetryExhausted ||
		code == ErrCodeMissingResponse || code == ErrCodeBatcherClosed
}

// IsRetryable checks if the error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

// GetErrorContext extracts context from an error
func GetErrorContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var tachysErr *errors.Error
	if goerrors.As(err, &tachysErr) {
		return tachysErr.Context
	}
	return nil
}
