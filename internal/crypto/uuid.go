package crypto

import (
	"strings"

	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewNonce returns a single-use request nonce. The 32 hex characters of a
// UUIDv7 satisfy MinNonceLength.
func NewNonce() string {
	return strings.ReplaceAll(NewUUIDv7().String(), "-", "")
}
