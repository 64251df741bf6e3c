package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/inbox/internal/messaging"
	"github.com/eldtechnologies/inbox/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	registry *messaging.Registry
	ledger   *messaging.Ledger
	logger   zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(ds store.DataStore, redis *store.RedisStore, registry *messaging.Registry, ledger *messaging.Ledger, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    ds,
		redis:    redis,
		registry: registry,
		ledger:   ledger,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps an error from the messaging core to its HTTP status. Details of
// internal failures are logged, never returned.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		h.Error(w, status, "internal error")
		return
	}
	h.Error(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, messaging.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, messaging.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, messaging.ErrParticipantNotFound), errors.Is(err, messaging.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, messaging.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}
