package handlers

import (
	"fmt"
	"net/http"
)

// ParticipantResponse represents the public participant profile.
type ParticipantResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind"`
	PublicKey string `json:"public_key"`
	JoinedAt  string `json:"joined_at"`
}

// GetParticipant handles participant profile lookup.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid participant ID format")
		return
	}

	participant, err := h.store.GetParticipantByID(r.Context(), id)
	if err != nil {
		h.Fail(w, r, fmt.Errorf("get participant: %w", err))
		return
	}
	if participant == nil {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}

	h.JSON(w, http.StatusOK, ParticipantResponse{
		ID:        participant.ID,
		Name:      participant.Name,
		Kind:      string(participant.Kind),
		PublicKey: participant.PublicKey,
		JoinedAt:  participant.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
