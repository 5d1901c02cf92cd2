package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, StatusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired:
		return http.StatusBadRequest

	case apperrors.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	case apperrors.ErrCodeUnauthorized,
		apperrors.ErrCodeInvalidToken:
		return http.StatusUnauthorized

	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	case apperrors.ErrCodeConflict:
		return http.StatusConflict

	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	case apperrors.ErrCodeTransientIO:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// CodeFromStatus is the inverse used by clients when a response carries no
// recognizable error body.
func CodeFromStatus(status int) apperrors.ErrorCode {
	switch {
	case status == http.StatusBadRequest:
		return apperrors.ErrCodeValidation
	case status == http.StatusRequestEntityTooLarge:
		return apperrors.ErrCodePayloadTooLarge
	case status == http.StatusUnauthorized:
		return apperrors.ErrCodeUnauthorized
	case status == http.StatusForbidden:
		return apperrors.ErrCodeForbidden
	case status == http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case status == http.StatusConflict:
		return apperrors.ErrCodeConflict
	case status == http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimitExceeded
	case status >= 500:
		return apperrors.ErrCodeTransientIO
	default:
		return apperrors.ErrCodeInternal
	}
}
