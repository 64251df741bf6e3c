package messaging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/inbox/internal/models"
	"github.com/eldtechnologies/inbox/internal/store"
)

type testEnv struct {
	store     store.DataStore
	registry  *Registry
	ledger    *Ledger
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return newTestEnvWith(ds)
}

// newPostgresTestEnv migrates and connects to TEST_DATABASE_URL; the test is
// skipped when unset. The database is shared, so tests only look at rows
// belonging to the participants they register.
func newPostgresTestEnv(t *testing.T) *testEnv {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, store.RunMigrations(ctx, url))

	ds, err := store.NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return newTestEnvWith(ds)
}

// forEachBackend runs fn against SQLite and, when configured, PostgreSQL.
func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestEnv(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresTestEnv(t)) })
}

func newTestEnvWith(ds store.DataStore) *testEnv {
	pub := &recordingPublisher{}
	reg := NewRegistry(ds, nil, zerolog.Nop())
	return &testEnv{
		store:     ds,
		registry:  reg,
		ledger:    NewLedger(ds, reg, pub, zerolog.Nop()),
		publisher: pub,
	}
}

// participants registers n participants and returns their ids.
func (e *testEnv) participants(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	run := time.Now().UnixNano()
	for i := range ids {
		kind := models.ParticipantTraveler
		if i%2 == 1 {
			kind = models.ParticipantCompany
		}
		p, err := e.store.CreateParticipant(context.Background(),
			fmt.Sprintf("%s-key-%d-%d", t.Name(), run, i), fmt.Sprintf("participant %d", i), kind)
		require.NoError(t, err)
		ids[i] = p.ID
	}
	return ids
}

func (e *testEnv) send(t *testing.T, from, to int64, content string) *models.Message {
	t.Helper()
	msg, err := e.ledger.SendMessage(context.Background(), NewPrincipal(from), SendMessageInput{
		ReceiverID: to,
		Content:    content,
	})
	require.NoError(t, err)
	return msg
}

// fakeClock returns whatever time was last set.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick makes every reading advance the clock by step.
func (c *fakeClock) Tick(step time.Duration) func() time.Time {
	return func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.now = c.now.Add(step)
		return c.now
	}
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, evt models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("redis unavailable")
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}
