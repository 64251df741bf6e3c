package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
)

const (
	conversationColumns = `id, participant_low, participant_high, last_message_id, last_activity, created_at`
	messageColumns      = `id, conversation_id, sender_id, receiver_id, content, subject, related_entity_id, message_type, is_read, read_at, created_at`
	participantColumns  = `id, public_key, name, kind, created_at`
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ DataStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Driver names the backend for health checks and metrics.
func (s *PostgresStore) Driver() string {
	return "postgres"
}

// CreateParticipant creates a new participant record.
func (s *PostgresStore) CreateParticipant(ctx context.Context, publicKey, name string, kind models.ParticipantKind) (*models.Participant, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO participants (public_key, name, kind)
		VALUES ($1, $2, $3)
		RETURNING `+participantColumns,
		publicKey, name, string(kind))
	return scanPgParticipant(row)
}

// GetParticipantByID retrieves a participant by ID.
func (s *PostgresStore) GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id)
	return notFoundAsNil(scanPgParticipant(row))
}

// GetParticipantByPublicKey retrieves a participant by public key.
func (s *PostgresStore) GetParticipantByPublicKey(ctx context.Context, publicKey string) (*models.Participant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE public_key = $1`, publicKey)
	return notFoundAsNil(scanPgParticipant(row))
}

// ParticipantExists reports whether a participant with id is registered.
func (s *PostgresStore) ParticipantExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return notFoundAsNil(scanPgConversation(row))
}

// ListConversationsFor returns every conversation the participant belongs
// to, most recently active first.
func (s *PostgresStore) ListConversationsFor(ctx context.Context, participantID int64) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.participant_low, c.participant_high, c.last_message_id, c.last_activity, c.created_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.receiver_id = $1 AND NOT m.is_read)
		FROM conversations c
		WHERE c.participant_low = $1 OR c.participant_high = $1
		ORDER BY c.last_activity DESC, c.id DESC
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var sum models.ConversationSummary
		c := &sum.Conversation
		err := rows.Scan(
			&c.ID,
			&c.ParticipantLow,
			&c.ParticipantHigh,
			&c.LastMessageID,
			&c.LastActivity,
			&c.CreatedAt,
			&sum.UnreadCount,
		)
		if err != nil {
			return nil, err
		}
		normalizeConversation(c)
		sum.OtherParticipantID = c.Other(participantID)
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return notFoundAsNil(scanPgMessage(row))
}

// ListMessages returns the messages of a conversation with id > afterID in
// ledger order. A limit <= 0 returns every remaining message.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1 AND id > $2
		ORDER BY created_at, id`
	args := []any{conversationID, afterID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// MarkMessageRead flips is_read to true. It reports false when the message
// was already read.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND NOT is_read
	`, id, ToMicros(at))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkConversationRead marks every unread message addressed to receiverID
// in the conversation and returns how many changed.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, receiverID int64, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read
	`, conversationID, receiverID, ToMicros(at))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountUnread counts unread messages addressed to receiverID in one conversation.
func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, receiverID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read
	`, conversationID, receiverID).Scan(&n)
	return n, err
}

// CountUnreadTotal counts unread messages addressed to receiverID.
func (s *PostgresStore) CountUnreadTotal(ctx context.Context, receiverID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read
	`, receiverID).Scan(&n)
	return n, err
}

// Stats returns platform-wide counts.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM participants),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT MAX(last_activity) FROM conversations)
	`).Scan(&st.Participants, &st.Conversations, &st.Messages, &st.LastActivity)
	if err != nil {
		return nil, err
	}
	if st.LastActivity != nil {
		t := st.LastActivity.UTC()
		st.LastActivity = &t
	}
	return st, nil
}

// InTx runs fn in a READ COMMITTED transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreTxDuration.WithLabelValues(s.Driver()).Observe(time.Since(start).Seconds())
	}()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	return classifyPgError(err)
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindConversationByPair(ctx context.Context, low, high int64) (*models.Conversation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_low = $1 AND participant_high = $2
	`, low, high)
	return notFoundAsNil(scanPgConversation(row))
}

func (t *pgTx) InsertConversation(ctx context.Context, low, high int64, at time.Time) (*models.Conversation, error) {
	at = ToMicros(at)
	row := t.tx.QueryRow(ctx, `
		INSERT INTO conversations (participant_low, participant_high, last_activity, created_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (participant_low, participant_high) DO NOTHING
		RETURNING `+conversationColumns,
		low, high, at)
	return notFoundAsNil(scanPgConversation(row))
}

func (t *pgTx) LockConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE
	`, id)
	return notFoundAsNil(scanPgConversation(row))
}

func (t *pgTx) InsertMessage(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = ToMicros(msg.CreatedAt)
	return t.tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, subject, related_entity_id, message_type, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		RETURNING id
	`,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.Subject,
		msg.RelatedEntityID,
		string(msg.Type),
		msg.CreatedAt,
	).Scan(&msg.ID)
}

func (t *pgTx) AdvanceConversation(ctx context.Context, conversationID, messageID int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_activity = GREATEST(last_activity, $3)
		WHERE id = $1 AND (last_message_id IS NULL OR last_message_id < $2)
	`, conversationID, messageID, ToMicros(at))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanPgParticipant(row pgx.Row) (*models.Participant, error) {
	p := &models.Participant{}
	var kind string
	err := row.Scan(&p.ID, &p.PublicKey, &p.Name, &kind, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Kind = models.ParticipantKind(kind)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanPgConversation(row pgx.Row) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.ParticipantLow,
		&c.ParticipantHigh,
		&c.LastMessageID,
		&c.LastActivity,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	normalizeConversation(c)
	return c, nil
}

func scanPgMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var msgType string
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.Subject,
		&m.RelatedEntityID,
		&msgType,
		&m.IsRead,
		&m.ReadAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = models.MessageType(msgType)
	m.CreatedAt = m.CreatedAt.UTC()
	if m.ReadAt != nil {
		readAt := m.ReadAt.UTC()
		m.ReadAt = &readAt
	}
	return m, nil
}

func normalizeConversation(c *models.Conversation) {
	c.LastActivity = c.LastActivity.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
}

// classifyPgError tags serialization failures and deadlocks as retryable.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
	}
	return err
}
