package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
	"github.com/eldtechnologies/inbox/internal/store"
)

// Directory answers whether a participant id is registered.
type Directory interface {
	ParticipantExists(ctx context.Context, id int64) (bool, error)
}

// Registry owns conversations: it creates exactly one per unordered pair of
// participants and keeps each conversation's last-message pointer current.
type Registry struct {
	store     store.DataStore
	directory Directory
	clock     func() time.Time
	logger    zerolog.Logger
}

// NewRegistry creates a registry backed by ds. When dir is nil the store
// itself answers participant lookups.
func NewRegistry(ds store.DataStore, dir Directory, logger zerolog.Logger) *Registry {
	if dir == nil {
		dir = ds
	}
	return &Registry{
		store:     ds,
		directory: dir,
		clock:     time.Now,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

func (r *Registry) now() time.Time {
	return store.ToMicros(r.clock())
}

// GetOrCreateConversation returns the conversation for {a, b}, creating it
// if none exists. Argument order does not matter, and concurrent callers
// for the same pair always get the same conversation.
func (r *Registry) GetOrCreateConversation(ctx context.Context, a, b int64) (*models.Conversation, error) {
	pair, err := NewPair(a, b)
	if err != nil {
		return nil, err
	}
	if err := r.ensureParticipants(ctx, pair.Low, pair.High); err != nil {
		return nil, err
	}

	var (
		conv    *models.Conversation
		created bool
	)
	err = runTx(ctx, r.store, "get_or_create_conversation", func(tx store.Tx) error {
		var err error
		conv, created, err = r.resolve(ctx, tx, pair)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.ConversationsOpened.Inc()
		r.logger.Debug().
			Int64("conversation_id", conv.ID).
			Int64("participant_low", pair.Low).
			Int64("participant_high", pair.High).
			Msg("conversation created")
	}
	return conv, nil
}

// Open returns the conversation between the principal and other.
func (r *Registry) Open(ctx context.Context, p Principal, other int64) (*models.Conversation, error) {
	id, err := p.id()
	if err != nil {
		return nil, err
	}
	return r.GetOrCreateConversation(ctx, id, other)
}

// Get returns one conversation the principal belongs to.
func (r *Registry) Get(ctx context.Context, p Principal, conversationID int64) (*models.Conversation, error) {
	id, err := p.id()
	if err != nil {
		return nil, err
	}
	conv, err := r.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsFor returns the principal's conversations, most recently
// active first, each with its unread count.
func (r *Registry) ListConversationsFor(ctx context.Context, p Principal) ([]models.ConversationSummary, error) {
	id, err := p.id()
	if err != nil {
		return nil, err
	}
	summaries, err := r.store.ListConversationsFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	return summaries, nil
}

func (r *Registry) ensureParticipants(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		ok, err := r.directory.ParticipantExists(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup participant %d: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrParticipantNotFound, id)
		}
	}
	return nil
}

// resolve finds or inserts the conversation for pair inside tx. A lost
// insert race is followed by a re-read, which sees the winner's row.
func (r *Registry) resolve(ctx context.Context, tx store.Tx, pair Pair) (*models.Conversation, bool, error) {
	for attempt := 0; attempt < maxResolveAttempt; attempt++ {
		conv, err := tx.FindConversationByPair(ctx, pair.Low, pair.High)
		if err != nil {
			return nil, false, fmt.Errorf("find conversation: %w", err)
		}
		if conv != nil {
			return conv, false, nil
		}

		conv, err = tx.InsertConversation(ctx, pair.Low, pair.High, r.now())
		if err != nil {
			return nil, false, fmt.Errorf("insert conversation: %w", err)
		}
		if conv != nil {
			return conv, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: conversation for %d/%d not visible after insert race",
		store.ErrRetryable, pair.Low, pair.High)
}

// touch advances the conversation pointer to msg. A pointer that is already
// past msg is left alone.
func (r *Registry) touch(ctx context.Context, tx store.Tx, msg *models.Message) error {
	advanced, err := tx.AdvanceConversation(ctx, msg.ConversationID, msg.ID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}
	if !advanced {
		r.logger.Debug().
			Int64("conversation_id", msg.ConversationID).
			Int64("message_id", msg.ID).
			Msg("conversation pointer already ahead")
	}
	return nil
}

func (r *Registry) load(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	if conversationID < 0 {
		return nil, fmt.Errorf("%w: conversation id %d is negative", ErrValidation, conversationID)
	}
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
	}
	return conv, nil
}

func authorize(conv *models.Conversation, participantID int64) error {
	if !conv.HasParticipant(participantID) {
		return fmt.Errorf("%w: participant %d is not a member of conversation %d",
			ErrForbidden, participantID, conv.ID)
	}
	return nil
}
