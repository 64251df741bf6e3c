package models

import "time"

// ParticipantKind distinguishes the two sides of the marketplace.
type ParticipantKind string

const (
	ParticipantTraveler ParticipantKind = "traveler"
	ParticipantCompany  ParticipantKind = "company"
)

// Valid reports whether k is a known participant kind.
func (k ParticipantKind) Valid() bool {
	return k == ParticipantTraveler || k == ParticipantCompany
}

// Participant represents a registered account holder that can exchange messages.
type Participant struct {
	ID        int64           `json:"id"`
	PublicKey string          `json:"public_key"`
	Name      string          `json:"name,omitempty"`
	Kind      ParticipantKind `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
}
