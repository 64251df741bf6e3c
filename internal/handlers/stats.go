package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalParticipants  int64  `json:"total_participants"`
	TotalConversations int64  `json:"total_conversations"`
	TotalMessages      int64  `json:"total_messages"`
	LastActivity       string `json:"last_activity"`
	LastActivityAt     string `json:"last_activity_at,omitempty"`
}

// Stats returns aggregate platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.Fail(w, r, fmt.Errorf("stats: %w", err))
		return
	}

	resp := StatsResponse{
		TotalParticipants:  stats.Participants,
		TotalConversations: stats.Conversations,
		TotalMessages:      stats.Messages,
		LastActivity:       "no activity yet",
	}
	if stats.LastActivity != nil {
		resp.LastActivity = formatTimeAgo(*stats.LastActivity, time.Now())
		resp.LastActivityAt = stats.LastActivity.UTC().Format(time.RFC3339)
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats t as a human-readable "X ago" string relative to now.
func formatTimeAgo(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	default:
		return plural(int(diff.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return strconv.Itoa(n) + " " + unit + "s ago"
}
