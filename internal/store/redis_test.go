package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/inbox/internal/models"
)

// newTestRedis connects to TEST_REDIS_URL; the test is skipped when unset.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEventChannel(t *testing.T) {
	assert.Equal(t, "inbox:participant:42", EventChannel(42))
	assert.Equal(t, "inbox:participant:42:events", eventFeedKey(42))
}

func TestRedisNonces(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	nonce := "nonce-" + time.Now().Format(time.RFC3339Nano)

	claimed, err := s.ClaimNonce(ctx, "1", nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimNonce(ctx, "1", nonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "a nonce can only be claimed once")

	claimed, err = s.ClaimNonce(ctx, "2", nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "nonces are scoped per participant")
}

func TestRedisNonceClaimIsAtomic(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	nonce := "race-" + time.Now().Format(time.RFC3339Nano)

	const workers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.ClaimNonce(ctx, "1", nonce, time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisPublishAndRecentEvents(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	participant := time.Now().UnixNano()
	t.Cleanup(func() { s.Client().Del(context.Background(), eventFeedKey(participant)) })

	sub := s.Client().Subscribe(ctx, EventChannel(participant))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Publish(ctx, models.Event{
			Type:           models.EventMessageSent,
			ConversationID: 9,
			MessageID:      i,
			ParticipantID:  participant,
			At:             base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"message_id":1`)

	events, err := s.RecentEvents(ctx, participant, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].MessageID)
	assert.Equal(t, int64(2), events[1].MessageID)
	assert.NotEmpty(t, events[0].ID)
}
