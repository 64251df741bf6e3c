package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/inbox/internal/crypto"
	"github.com/eldtechnologies/inbox/internal/messaging"
	"github.com/eldtechnologies/inbox/internal/models"
)

// Request signing headers.
const (
	HeaderParticipant = "X-Inbox-Participant"
	HeaderNonce       = "X-Inbox-Nonce"
	HeaderTimestamp   = "X-Inbox-Timestamp"
	HeaderSignature   = "X-Inbox-Signature"
)

type contextKey string

const ParticipantContextKey contextKey = "participant"

// nonceTTL outlives the signature window so a nonce cannot be replayed
// while its timestamp is still acceptable.
const nonceTTL = 3 * time.Minute

// ParticipantLookup resolves the participant named in a signed request.
type ParticipantLookup interface {
	GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error)
}

// NonceStore remembers nonces that have already been accepted.
type NonceStore interface {
	// ClaimNonce records the nonce for ttl. It reports false when the nonce
	// is already held, so of two concurrent claims exactly one succeeds.
	ClaimNonce(ctx context.Context, participantID, nonce string, ttl time.Duration) (bool, error)
}

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	participants ParticipantLookup
	nonces       NonceStore
	logger       zerolog.Logger
	now          func() time.Time
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(participants ParticipantLookup, nonces NonceStore, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		participants: participants,
		nonces:       nonces,
		logger:       logger,
		now:          time.Now,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract headers
		participantHeader := r.Header.Get(HeaderParticipant)
		nonce := r.Header.Get(HeaderNonce)
		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		// Validate all headers present
		if participantHeader == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		// Parse and validate timestamp
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if err := crypto.ValidateTimestamp(ts, m.now()); err != nil {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		// Validate nonce format (min length for adequate entropy)
		if len(nonce) < crypto.MinNonceLength {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		participantID, err := strconv.ParseInt(participantHeader, 10, 64)
		if err != nil || participantID <= 0 {
			jsonError(w, http.StatusUnauthorized, "invalid participant ID format")
			return
		}

		// Get participant's public key
		participant, err := m.participants.GetParticipantByID(r.Context(), participantID)
		if err != nil || participant == nil {
			jsonError(w, http.StatusUnauthorized, "participant not found")
			return
		}

		// Read body and compute hash
		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		// Verify signature
		signedData := crypto.SignaturePayload(r.Method, r.URL.RequestURI(), crypto.BodyHash(body), nonce, ts)
		pubkey, err := crypto.ValidatePublicKey(participant.PublicKey)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid participant public key")
			return
		}

		if err := crypto.VerifySignature(pubkey, signedData, signature); err != nil {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "invalid_signature").
				Int64("participant", participantID).
				Str("ip", RealIP(r)).
				Msg("signature verification failed")
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Claim the nonce; a replay loses the claim
		claimed, err := m.nonces.ClaimNonce(r.Context(), participantHeader, nonce, nonceTTL)
		if err != nil {
			m.logger.Error().Err(err).Msg("nonce store unavailable")
			jsonError(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
			return
		}
		if !claimed {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "nonce_replay").
				Int64("participant", participantID).
				Str("ip", RealIP(r)).
				Msg("replayed nonce rejected")
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), participant)))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WithParticipant stores the authenticated participant in ctx.
func WithParticipant(ctx context.Context, p *models.Participant) context.Context {
	return context.WithValue(ctx, ParticipantContextKey, p)
}

// GetParticipantFromContext retrieves the authenticated participant from the request context.
func GetParticipantFromContext(ctx context.Context) *models.Participant {
	participant, ok := ctx.Value(ParticipantContextKey).(*models.Participant)
	if !ok {
		return nil
	}
	return participant
}

// PrincipalFromContext returns the messaging principal for the request. It
// is unauthenticated when no participant was resolved.
func PrincipalFromContext(ctx context.Context) messaging.Principal {
	participant := GetParticipantFromContext(ctx)
	if participant == nil {
		return messaging.Principal{}
	}
	return messaging.NewPrincipal(participant.ID)
}
