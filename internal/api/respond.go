package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vietddude/snapquiz/internal/quiz/generation"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var te *session.TransitionError
	var bad *badRequestError

	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &bad),
		errors.Is(err, session.ErrInvalidOption),
		errors.Is(err, session.ErrInvalidQuestion),
		errors.Is(err, generation.ErrNoImages),
		errors.Is(err, generation.ErrTooManyImages):
		return http.StatusBadRequest
	case errors.As(err, &te),
		errors.Is(err, session.ErrNotAnswered),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// decodeJSON reads a JSON body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("bad json: " + err.Error())
	}
	return nil
}
