package handlers

import (
	"fmt"
	"net/http"

	"github.com/eldtechnologies/inbox/internal/crypto"
	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ID         int64  `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register handles participant registration. Registering an existing
// public key returns the existing participant.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validate public key is present
	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}

	// Validate public key format
	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	kind := models.ParticipantKind(req.Kind)
	if req.Kind == "" {
		kind = models.ParticipantTraveler
	}
	if !kind.Valid() {
		h.Error(w, http.StatusBadRequest, "kind must be traveler or company")
		return
	}

	// Check if public key already registered
	existing, err := h.store.GetParticipantByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		h.Fail(w, r, fmt.Errorf("lookup participant: %w", err))
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, registerResponse(existing))
		return
	}

	participant, err := h.store.CreateParticipant(r.Context(), req.PublicKey, sanitizeName(req.Name), kind)
	if err != nil {
		// A concurrent registration of the same key wins the unique index.
		if existing, lookupErr := h.store.GetParticipantByPublicKey(r.Context(), req.PublicKey); lookupErr == nil && existing != nil {
			h.JSON(w, http.StatusOK, registerResponse(existing))
			return
		}
		h.Fail(w, r, fmt.Errorf("create participant: %w", err))
		return
	}

	metrics.ParticipantsRegistered.Inc()
	h.logger.Info().
		Int64("participant_id", participant.ID).
		Str("kind", string(participant.Kind)).
		Msg("participant registered")

	h.JSON(w, http.StatusCreated, registerResponse(participant))
}

func registerResponse(p *models.Participant) RegisterResponse {
	return RegisterResponse{
		ID:         p.ID,
		ProfileURL: fmt.Sprintf("/participants/%d", p.ID),
	}
}
