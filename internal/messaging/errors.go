package messaging

import (
	"errors"
	"fmt"
)

// Error kinds returned by the registry and the ledger. Details are attached
// with %w wrapping, so callers match with errors.Is.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrValidation          = errors.New("validation failed")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")

	// ErrInvalidPair is a validation error for a conversation with oneself.
	ErrInvalidPair = fmt.Errorf("%w: participants must be distinct", ErrValidation)
)
