package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
)

const (
	eventFeedTTL = 7 * 24 * time.Hour
	eventFeedMax = 500
)

// RedisStore handles Redis operations for request nonces, rate limiting
// and change events. It never holds conversation or message state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// nonceKey returns the key for nonce tracking.
func nonceKey(participantID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", participantID, nonce)
}

// ClaimNonce marks a nonce as used with a TTL. It reports false when the
// key already exists.
func (s *RedisStore) ClaimNonce(ctx context.Context, participantID, nonce string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	return s.client.SetNX(ctx, nonceKey(participantID, nonce), "1", ttl).Result()
}

// EventChannel returns the pub/sub channel for a participant's events.
func EventChannel(participantID int64) string {
	return fmt.Sprintf("inbox:participant:%d", participantID)
}

// eventFeedKey returns the key for a participant's recent event feed.
func eventFeedKey(participantID int64) string {
	return fmt.Sprintf("inbox:participant:%d:events", participantID)
}

// Publish records evt in the participant's feed and announces it on the
// participant's channel.
func (s *RedisStore) Publish(ctx context.Context, evt models.Event) error {
	start := time.Now()
	defer func() {
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	key := eventFeedKey(evt.ParticipantID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(evt.At.UnixMilli()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -eventFeedMax-1)
	pipe.Expire(ctx, key, eventFeedTTL)
	pipe.Publish(ctx, EventChannel(evt.ParticipantID), data)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentEvents returns the newest events for a participant, newest first.
func (s *RedisStore) RecentEvents(ctx context.Context, participantID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	results, err := s.client.ZRevRange(ctx, eventFeedKey(participantID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(results))
	for _, data := range results {
		var evt models.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}

	return events, nil
}
