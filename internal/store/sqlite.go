package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
)

// SQLiteStore handles SQLite database operations.
// Timestamps are stored as INTEGER unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/inbox.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/inbox.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Write transactions start with BEGIN IMMEDIATE so concurrent writers
	// queue on the busy timeout instead of failing on lock upgrade.
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_key TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'traveler' CHECK (kind IN ('traveler', 'company')),
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_low INTEGER NOT NULL REFERENCES participants(id),
		participant_high INTEGER NOT NULL REFERENCES participants(id),
		last_message_id INTEGER,
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		CHECK (participant_low < participant_high),
		UNIQUE (participant_low, participant_high)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		sender_id INTEGER NOT NULL REFERENCES participants(id),
		receiver_id INTEGER NOT NULL REFERENCES participants(id),
		content TEXT NOT NULL CHECK (content <> ''),
		subject TEXT,
		related_entity_id INTEGER,
		message_type TEXT NOT NULL DEFAULT 'direct' CHECK (message_type IN ('direct', 'inquiry', 'booking')),
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at INTEGER,
		created_at INTEGER NOT NULL,
		CHECK (sender_id <> receiver_id)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_low_activity ON conversations(participant_low, last_activity);
	CREATE INDEX IF NOT EXISTS idx_conversations_high_activity ON conversations(participant_high, last_activity);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_order ON messages(conversation_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, conversation_id) WHERE is_read = 0;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver names the backend for health checks and metrics.
func (s *SQLiteStore) Driver() string {
	return "sqlite"
}

// CreateParticipant creates a new participant record.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, publicKey, name string, kind models.ParticipantKind) (*models.Participant, error) {
	now := ToMicros(time.Now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (public_key, name, kind, created_at)
		VALUES (?, ?, ?, ?)
	`, publicKey, name, string(kind), now.UnixMicro())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetParticipantByID(ctx, id)
}

// GetParticipantByID retrieves a participant by ID.
func (s *SQLiteStore) GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	return notFoundAsNil(scanSQLiteParticipant(row))
}

// GetParticipantByPublicKey retrieves a participant by public key.
func (s *SQLiteStore) GetParticipantByPublicKey(ctx context.Context, publicKey string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE public_key = ?`, publicKey)
	return notFoundAsNil(scanSQLiteParticipant(row))
}

// ParticipantExists reports whether a participant with id is registered.
func (s *SQLiteStore) ParticipantExists(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE id = ?)`, id).Scan(&exists)
	return exists == 1, err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return notFoundAsNil(scanSQLiteConversation(row))
}

// ListConversationsFor returns every conversation the participant belongs
// to, most recently active first.
func (s *SQLiteStore) ListConversationsFor(ctx context.Context, participantID int64) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.participant_low, c.participant_high, c.last_message_id, c.last_activity, c.created_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.receiver_id = ?1 AND m.is_read = 0)
		FROM conversations c
		WHERE c.participant_low = ?1 OR c.participant_high = ?1
		ORDER BY c.last_activity DESC, c.id DESC
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var sum models.ConversationSummary
		var lastMessageID sql.NullInt64
		var lastActivity, createdAt int64
		c := &sum.Conversation

		err := rows.Scan(
			&c.ID,
			&c.ParticipantLow,
			&c.ParticipantHigh,
			&lastMessageID,
			&lastActivity,
			&createdAt,
			&sum.UnreadCount,
		)
		if err != nil {
			return nil, err
		}

		c.LastMessageID = nullableInt(lastMessageID)
		c.LastActivity = fromMicros(lastActivity)
		c.CreatedAt = fromMicros(createdAt)
		sum.OtherParticipantID = c.Other(participantID)
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return notFoundAsNil(scanSQLiteMessage(row))
}

// ListMessages returns the messages of a conversation with id > afterID in
// ledger order. A limit <= 0 returns every remaining message.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND id > ?
		ORDER BY created_at, id
		LIMIT ?
	`, conversationID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// MarkMessageRead flips is_read to true. It reports false when the message
// was already read.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE id = ? AND is_read = 0
	`, ToMicros(at).UnixMicro(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkConversationRead marks every unread message addressed to receiverID
// in the conversation and returns how many changed.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, receiverID int64, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
	`, ToMicros(at).UnixMicro(), conversationID, receiverID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread counts unread messages addressed to receiverID in one conversation.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, receiverID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
	`, conversationID, receiverID).Scan(&n)
	return n, err
}

// CountUnreadTotal counts unread messages addressed to receiverID.
func (s *SQLiteStore) CountUnreadTotal(ctx context.Context, receiverID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0
	`, receiverID).Scan(&n)
	return n, err
}

// Stats returns platform-wide counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var lastActivity sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM participants),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT MAX(last_activity) FROM conversations)
	`).Scan(&st.Participants, &st.Conversations, &st.Messages, &lastActivity)
	if err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		t := fromMicros(lastActivity.Int64)
		st.LastActivity = &t
	}
	return st, nil
}

// InTx runs fn inside a BEGIN IMMEDIATE transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Tx) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.StoreTxDuration.WithLabelValues(s.Driver()).Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx}); err != nil {
		return classifySQLiteError(err)
	}
	if err = tx.Commit(); err != nil {
		return classifySQLiteError(err)
	}
	return nil
}

// sqliteTx implements Tx on top of a database/sql transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindConversationByPair(ctx context.Context, low, high int64) (*models.Conversation, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_low = ? AND participant_high = ?
	`, low, high)
	return notFoundAsNil(scanSQLiteConversation(row))
}

func (t *sqliteTx) InsertConversation(ctx context.Context, low, high int64, at time.Time) (*models.Conversation, error) {
	micros := ToMicros(at).UnixMicro()
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO conversations (participant_low, participant_high, last_activity, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant_low, participant_high) DO NOTHING
		RETURNING `+conversationColumns,
		low, high, micros, micros)
	return notFoundAsNil(scanSQLiteConversation(row))
}

// LockConversation is a plain read: the IMMEDIATE transaction already holds
// the database write lock.
func (t *sqliteTx) LockConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return notFoundAsNil(scanSQLiteConversation(row))
}

func (t *sqliteTx) InsertMessage(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = ToMicros(msg.CreatedAt)
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, subject, related_entity_id, message_type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.Subject,
		msg.RelatedEntityID,
		string(msg.Type),
		msg.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return err
	}
	msg.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) AdvanceConversation(ctx context.Context, conversationID, messageID int64, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?2, last_activity = MAX(last_activity, ?3)
		WHERE id = ?1 AND (last_message_id IS NULL OR last_message_id < ?2)
	`, conversationID, messageID, ToMicros(at).UnixMicro())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteParticipant(row sqlScanner) (*models.Participant, error) {
	p := &models.Participant{}
	var kind string
	var createdAt int64
	if err := row.Scan(&p.ID, &p.PublicKey, &p.Name, &kind, &createdAt); err != nil {
		return nil, err
	}
	p.Kind = models.ParticipantKind(kind)
	p.CreatedAt = fromMicros(createdAt)
	return p, nil
}

func scanSQLiteConversation(row sqlScanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	var lastMessageID sql.NullInt64
	var lastActivity, createdAt int64

	err := row.Scan(
		&c.ID,
		&c.ParticipantLow,
		&c.ParticipantHigh,
		&lastMessageID,
		&lastActivity,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.LastMessageID = nullableInt(lastMessageID)
	c.LastActivity = fromMicros(lastActivity)
	c.CreatedAt = fromMicros(createdAt)
	return c, nil
}

func scanSQLiteMessage(row sqlScanner) (*models.Message, error) {
	m := &models.Message{}
	var (
		subject   sql.NullString
		related   sql.NullInt64
		msgType   string
		isRead    int
		readAt    sql.NullInt64
		createdAt int64
	)

	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&subject,
		&related,
		&msgType,
		&isRead,
		&readAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if subject.Valid {
		m.Subject = &subject.String
	}
	m.RelatedEntityID = nullableInt(related)
	m.Type = models.MessageType(msgType)
	m.IsRead = isRead == 1
	if readAt.Valid {
		t := fromMicros(readAt.Int64)
		m.ReadAt = &t
	}
	m.CreatedAt = fromMicros(createdAt)
	return m, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// classifySQLiteError tags lock contention as retryable.
func classifySQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
	}
	return err
}
