package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/httputil"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

type contentRequest struct {
	Content string `json:"content"`
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.PayloadTooLarge()
		}
		return apperrors.ValidationError("Invalid JSON body")
	}
	return nil
}

// sessionIDParam reads {id} and rejects anything that is not a UUID before
// it reaches the store.
func sessionIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if !util.IsValidUUID(id) {
		return "", apperrors.InvalidInput("session id", "must be a UUID")
	}
	return id, nil
}
