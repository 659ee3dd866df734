// Package errors provides the review broker's error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies which kind of refusal an operation produced.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeForbidden           Code = "FORBIDDEN"
	CodeStaleClaim          Code = "STALE_CLAIM"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidDiff         Code = "INVALID_DIFF"
	CodeInvalidCounterPatch Code = "INVALID_COUNTER_PATCH"
	CodeStaleCounterPatch   Code = "STALE_COUNTER_PATCH"
	CodeCooldownActive      Code = "COOLDOWN_ACTIVE"
	CodePoolCapReached      Code = "POOL_CAP_REACHED"
	CodeReservedForReviewer Code = "RESERVED_FOR_REVIEWER"
	CodeNotAllowedInState   Code = "NOT_ALLOWED_IN_STATE"
	CodeTurnViolation       Code = "TURN_VIOLATION"
	CodeInternalStoreError  Code = "INTERNAL_STORE_ERROR"
)

// BrokerError is the broker's structured error type. Every operation
// failure returned across the Operations contract carries one of these.
type BrokerError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func (e *BrokerError) WithDetail(key string, value any) *BrokerError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *BrokerError {
	return &BrokerError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func NotFound(resource, id string) *BrokerError {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", resource, id), http.StatusNotFound).
		WithDetail("resource", resource).WithDetail("id", id)
}

func InvalidTransition(from, to string) *BrokerError {
	return New(CodeInvalidTransition, fmt.Sprintf("cannot transition from %q to %q", from, to), http.StatusConflict).
		WithDetail("from", from).WithDetail("to", to)
}

func InvalidInput(field, reason string) *BrokerError {
	return New(CodeInvalidInput, fmt.Sprintf("invalid input for %s: %s", field, reason), http.StatusBadRequest).
		WithDetail("field", field).WithDetail("reason", reason)
}

func Forbidden(message string) *BrokerError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func ReservedForReviewer(reviewerID string) *BrokerError {
	return New(CodeReservedForReviewer, "review is reserved for another reviewer", http.StatusConflict).
		WithDetail("reserved_for", reviewerID)
}

func StaleClaim(expected, got int64) *BrokerError {
	return New(CodeStaleClaim, "stale claim generation", http.StatusConflict).
		WithDetail("expected", expected).WithDetail("got", got)
}

func Unauthorized(message string) *BrokerError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidDiff(reason string) *BrokerError {
	return New(CodeInvalidDiff, reason, http.StatusBadRequest)
}

func InvalidCounterPatch(reason string) *BrokerError {
	return New(CodeInvalidCounterPatch, reason, http.StatusBadRequest)
}

func StaleCounterPatch(reason string) *BrokerError {
	return New(CodeStaleCounterPatch, reason, http.StatusConflict)
}

func CooldownActive(retryAfterSeconds float64) *BrokerError {
	return New(CodeCooldownActive, "spawn cooldown active", http.StatusTooManyRequests).
		WithDetail("retry_after_seconds", retryAfterSeconds)
}

func PoolCapReached(maxPoolSize int) *BrokerError {
	return New(CodePoolCapReached, "reviewer pool is at capacity", http.StatusTooManyRequests).
		WithDetail("max_pool_size", maxPoolSize)
}

func NotAllowedInState(state string) *BrokerError {
	return New(CodeNotAllowedInState, fmt.Sprintf("operation not allowed while review is %q", state), http.StatusConflict).
		WithDetail("status", state)
}

func TurnViolation(expectedRole string) *BrokerError {
	return New(CodeTurnViolation, "messages must alternate sender_role", http.StatusConflict).
		WithDetail("expected_sender_role", expectedRole)
}

func InternalStoreError(operation string, err error) *BrokerError {
	return Wrap(CodeInternalStoreError, fmt.Sprintf("store operation %q failed", operation), http.StatusInternalServerError, err).
		WithDetail("operation", operation)
}

// As extracts a *BrokerError from an error chain, mirroring the teacher's
// errors.GetServiceError helper.
func As(err error) *BrokerError {
	var be *BrokerError
	if errors.As(err, &be) {
		return be
	}
	return nil
}

func Is(err error) bool {
	return As(err) != nil
}

func HTTPStatus(err error) int {
	if be := As(err); be != nil {
		return be.HTTPStatus
	}
	return http.StatusInternalServerError
}
