package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_CodeAndStatus(t *testing.T) {
	cases := []struct {
		name       string
		err        *BrokerError
		code       Code
		httpStatus int
	}{
		{"NotFound", NotFound("review", "r-1"), CodeNotFound, http.StatusNotFound},
		{"InvalidTransition", InvalidTransition("pending", "approved"), CodeInvalidTransition, http.StatusConflict},
		{"InvalidInput", InvalidInput("review_id", "required"), CodeInvalidInput, http.StatusBadRequest},
		{"Forbidden", Forbidden("nope"), CodeForbidden, http.StatusForbidden},
		{"StaleClaim", StaleClaim(2, 1), CodeStaleClaim, http.StatusConflict},
		{"CooldownActive", CooldownActive(3.5), CodeCooldownActive, http.StatusTooManyRequests},
		{"PoolCapReached", PoolCapReached(4), CodePoolCapReached, http.StatusTooManyRequests},
		{"NotAllowedInState", NotAllowedInState("closed"), CodeNotAllowedInState, http.StatusConflict},
		{"TurnViolation", TurnViolation("proposer"), CodeTurnViolation, http.StatusConflict},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.code, c.err.Code)
			assert.Equal(t, c.httpStatus, c.err.HTTPStatus)
			assert.NotEmpty(t, c.err.Error())
		})
	}
}

func TestNotFound_Details(t *testing.T) {
	err := NotFound("review", "r-1")
	assert.Equal(t, "review", err.Details["resource"])
	assert.Equal(t, "r-1", err.Details["id"])
}

func TestInternalStoreError_Unwraps(t *testing.T) {
	underlying := errors.New("disk full")
	err := InternalStoreError("insert_review", underlying)
	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, underlying, err.Unwrap())
}

func TestAs_ExtractsBrokerError(t *testing.T) {
	wrapped := InvalidInput("field", "bad")
	be := As(wrapped)
	require.NotNil(t, be)
	assert.Equal(t, CodeInvalidInput, be.Code)

	assert.Nil(t, As(errors.New("plain error")))
}

func TestIs_ReportsWhetherErrorIsBrokerError(t *testing.T) {
	assert.True(t, Is(Forbidden("no")))
	assert.False(t, Is(errors.New("plain")))
}

func TestHTTPStatus_DefaultsTo500ForNonBrokerErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("review", "r-1")))
}

func TestWithDetail_AddsToNilMap(t *testing.T) {
	err := New(CodeForbidden, "no", http.StatusForbidden)
	err.WithDetail("reason", "locked")
	assert.Equal(t, "locked", err.Details["reason"])
}
