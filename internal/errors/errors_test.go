package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "firstName"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"NotFound", func() *AppError { return NotFound("Session") }, ErrCodeNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("scope", "unknown") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("content") }, ErrCodeMissingRequired},
		{"PayloadTooLarge", func() *AppError { return PayloadTooLarge() }, ErrCodePayloadTooLarge},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"TransientIO", func() *AppError { return TransientIO("store", errors.New("refused")) }, ErrCodeTransientIO},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database(cause)
	assert.Equal(t, ErrCodeDatabase, err.Code)
	assert.Equal(t, cause, err.Unwrap())
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts wrapped AppError", func(t *testing.T) {
		original := NotFound("Session")
		wrapped := fmt.Errorf("get session: %w", original)
		extracted, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(NotFound("Session")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestClassifiers(t *testing.T) {
	t.Run("validation family", func(t *testing.T) {
		assert.True(t, IsValidation(ValidationError("x")))
		assert.True(t, IsValidation(PayloadTooLarge()))
		assert.True(t, IsValidation(MissingRequired("content")))
		assert.False(t, IsValidation(NotFound("Session")))
		assert.False(t, IsValidation(nil))
	})

	t.Run("unauthorized family", func(t *testing.T) {
		assert.True(t, IsUnauthorized(Unauthorized("x")))
		assert.True(t, IsUnauthorized(InvalidToken("x")))
		assert.False(t, IsUnauthorized(Forbidden("x")))
	})

	t.Run("retryable", func(t *testing.T) {
		assert.True(t, IsRetryable(TransientIO("broker", nil)))
		assert.True(t, IsRetryable(RateLimitExceeded()))
		assert.False(t, IsRetryable(ValidationError("x")))
		assert.False(t, IsRetryable(errors.New("plain")))
		assert.False(t, IsRetryable(nil))
	})

	t.Run("not found through wrapping", func(t *testing.T) {
		assert.True(t, IsNotFound(fmt.Errorf("restore: %w", NotFound("Session"))))
	})
}
