package messaging

import "fmt"

// Pair is an unordered pair of participants normalized so Low < High.
type Pair struct {
	Low  int64
	High int64
}

// NewPair canonicalizes {a, b}. NewPair(a, b) and NewPair(b, a) are equal.
func NewPair(a, b int64) (Pair, error) {
	if err := validateParticipantID(a); err != nil {
		return Pair{}, err
	}
	if err := validateParticipantID(b); err != nil {
		return Pair{}, err
	}
	if a == b {
		return Pair{}, ErrInvalidPair
	}
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}, nil
}

func validateParticipantID(id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: participant id %d is negative", ErrValidation, id)
	}
	return nil
}
