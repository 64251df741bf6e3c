package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eldtechnologies/inbox/internal/models"
)

// ErrRetryable marks a transaction that failed because of a transient
// conflict with a concurrent writer. The whole unit may be run again.
var ErrRetryable = errors.New("store: transient conflict, retry transaction")

// DataStore defines the interface for persistent storage of participants,
// conversations and messages. Both PostgresStore and SQLiteStore implement it.
//
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error
	Driver() string

	// Participant operations
	CreateParticipant(ctx context.Context, publicKey, name string, kind models.ParticipantKind) (*models.Participant, error)
	GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error)
	GetParticipantByPublicKey(ctx context.Context, publicKey string) (*models.Participant, error)
	ParticipantExists(ctx context.Context, id int64) (bool, error)

	// Conversation reads
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListConversationsFor(ctx context.Context, participantID int64) ([]models.ConversationSummary, error)

	// Message operations
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]models.Message, error)
	MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, conversationID, receiverID int64, at time.Time) (int64, error)
	CountUnread(ctx context.Context, conversationID, receiverID int64) (int64, error)
	CountUnreadTotal(ctx context.Context, receiverID int64) (int64, error)

	// Aggregates
	Stats(ctx context.Context) (*Stats, error)

	// InTx runs fn inside a single write transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Stats holds platform-wide counts. LastActivity is nil before the first
// conversation exists.
type Stats struct {
	Participants  int64
	Conversations int64
	Messages      int64
	LastActivity  *time.Time
}

// Tx holds the write primitives that must share one atomic unit.
type Tx interface {
	// FindConversationByPair looks up the conversation for a canonical pair.
	FindConversationByPair(ctx context.Context, low, high int64) (*models.Conversation, error)

	// InsertConversation inserts a conversation for a canonical pair. It
	// returns (nil, nil) when a concurrent writer already owns the pair.
	InsertConversation(ctx context.Context, low, high int64, at time.Time) (*models.Conversation, error)

	// LockConversation reads a conversation and holds its row lock until
	// the transaction ends.
	LockConversation(ctx context.Context, id int64) (*models.Conversation, error)

	// InsertMessage persists msg and fills in its ID.
	InsertMessage(ctx context.Context, msg *models.Message) error

	// AdvanceConversation moves the last-message pointer to messageID only
	// when messageID is greater than the current one. It reports whether
	// the row changed.
	AdvanceConversation(ctx context.Context, conversationID, messageID int64, at time.Time) (bool, error)
}

// ToMicros truncates t to the microsecond resolution shared by both backends.
func ToMicros(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// notFoundAsNil turns a missing row into the (nil, nil) lookup convention.
func notFoundAsNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
