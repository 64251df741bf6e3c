package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPair(t *testing.T) {
	p, err := NewPair(9, 4)
	require.NoError(t, err)
	assert.Equal(t, Pair{Low: 4, High: 9}, p)

	q, err := NewPair(4, 9)
	require.NoError(t, err)
	assert.Equal(t, p, q)
}

func TestNewPairRejectsSelf(t *testing.T) {
	_, err := NewPair(7, 7)
	assert.ErrorIs(t, err, ErrInvalidPair)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewPairRejectsNegative(t *testing.T) {
	_, err := NewPair(-1, 3)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrInvalidPair)
}

func TestPrincipal(t *testing.T) {
	var zero Principal
	assert.False(t, zero.Authenticated())
	_, err := zero.id()
	assert.ErrorIs(t, err, ErrUnauthenticated)

	p := NewPrincipal(12)
	assert.True(t, p.Authenticated())
	assert.Equal(t, int64(12), p.ParticipantID())

	_, err = NewPrincipal(-3).id()
	assert.ErrorIs(t, err, ErrValidation)
}
