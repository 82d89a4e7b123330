package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request errors. Branch isolation
// in the collector pattern-matches on this instead of broad error catching.
type ErrorClass string

const (
	// ErrorClassAuth represents authentication-class statuses (401, 403).
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a request error with classification and HTTP status.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Path       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error on %s (status %d): %s: %v",
			e.Class, e.Path, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error on %s (status %d): %s",
		e.Class, e.Path, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether a fresh attempt may succeed.
func (e *APIError) Retryable() bool { return shouldRetry(e.Class) }

// shouldRetry determines if an error class warrants another attempt.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassAuth:
		// Auth gets exactly one re-authentication, handled separately
		// from the backoff loop.
		return false
	case ErrorClassClient:
		// 4xx is terminal for the resource
		return false
	case ErrorClassServer:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ErrorClassAuth
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
