package messaging

// Principal is the authenticated requester of an operation. It is passed
// explicitly to every call; the zero value is unauthenticated.
type Principal struct {
	participantID int64
	resolved      bool
}

// NewPrincipal returns a principal for a participant resolved by the
// authentication layer.
func NewPrincipal(participantID int64) Principal {
	return Principal{participantID: participantID, resolved: true}
}

// ParticipantID returns the requester's participant id.
func (p Principal) ParticipantID() int64 {
	return p.participantID
}

// Authenticated reports whether p carries a resolved identity.
func (p Principal) Authenticated() bool {
	return p.resolved
}

func (p Principal) id() (int64, error) {
	if !p.resolved {
		return 0, ErrUnauthenticated
	}
	if err := validateParticipantID(p.participantID); err != nil {
		return 0, err
	}
	return p.participantID, nil
}
