package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/app/onboarding"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

// APIError is the JSON body of every failed HTTP call.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

// Unwrap maps the code back to the error it was produced from, so callers on the client
// side can use errors.Is against the same sentinels as the server.
func (e *APIError) Unwrap() error {
	for _, m := range errorMappings {
		if m.code == e.Code {
			return m.err
		}
	}
	return nil
}

var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrGameNotFound, http.StatusNotFound, "game_not_found"},
	{domain.ErrDeckEmpty, http.StatusNotFound, "deck_empty"},
	{domain.ErrCardNotFound, http.StatusNotFound, "card_not_found"},
	{domain.ErrPlayerNotFound, http.StatusForbidden, "player_not_found"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{app.ErrTooFewPlayers, http.StatusBadRequest, "too_few_players"},
	{app.ErrInvalidDeckCount, http.StatusBadRequest, "invalid_deck_count"},
	{app.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{protocol.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{onboarding.ErrInvalidUsername, http.StatusBadRequest, "invalid_username"},
	{onboarding.ErrUsernameTaken, http.StatusConflict, "username_taken"},
}

// toAPIError classifies err. Unclassified errors, including persistence failures, become
// a generic internal error.
func toAPIError(err error) *APIError {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return &APIError{Status: m.status, Code: m.code, Message: m.err.Error()}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: "request cancelled"}
	}
	return &APIError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *APIError) {
	writeJSON(w, err.Status, err)
}
