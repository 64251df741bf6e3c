package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/eldtechnologies/inbox/internal/api/middleware"
	"github.com/eldtechnologies/inbox/internal/models"
)

const maxEventsLimit = 200

// EventListResponse represents the caller's recent change events.
type EventListResponse struct {
	Events []models.Event `json:"events"`
}

// UnreadTotal returns the caller's unread count across all conversations.
func (h *Handler) UnreadTotal(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.UnreadTotalFor(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, UnreadResponse{Unread: n})
}

// Events returns the caller's most recent change events, newest first.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipantFromContext(r.Context())
	if participant == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "event feed not configured")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := h.redis.RecentEvents(r.Context(), participant.ID, limit)
	if err != nil {
		h.Fail(w, r, fmt.Errorf("recent events: %w", err))
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	h.JSON(w, http.StatusOK, EventListResponse{Events: events})
}
