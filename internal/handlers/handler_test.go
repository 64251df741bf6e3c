package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eldtechnologies/inbox/internal/messaging"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{messaging.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: content is required", messaging.ErrValidation), http.StatusBadRequest},
		{messaging.ErrInvalidPair, http.StatusBadRequest},
		{fmt.Errorf("%w: 9", messaging.ErrParticipantNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: conversation 3", messaging.ErrNotFound), http.StatusNotFound},
		{messaging.ErrForbidden, http.StatusForbidden},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Alpine Tours", sanitizeName("  Alpine\x00 Tours\n "))
	assert.Len(t, []rune(sanitizeName(strings.Repeat("é", 150))), 100)
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", formatTimeAgo(now.Add(-10*time.Second), now))
	assert.Equal(t, "1 minute ago", formatTimeAgo(now.Add(-time.Minute), now))
	assert.Equal(t, "5 hours ago", formatTimeAgo(now.Add(-5*time.Hour), now))
	assert.Equal(t, "3 days ago", formatTimeAgo(now.Add(-72*time.Hour), now))
}
