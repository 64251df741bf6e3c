package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/models"
	"github.com/eldtechnologies/inbox/internal/store"
)

const (
	// MaxContentBytes bounds the size of a message body.
	MaxContentBytes = 8192
	// MaxSubjectLength bounds the subject line, in characters.
	MaxSubjectLength = 200

	publishTimeout = 2 * time.Second
)

// Publisher receives change events after they are committed.
type Publisher interface {
	Publish(ctx context.Context, evt models.Event) error
}

// SendMessageInput carries the caller-supplied fields of a new message.
type SendMessageInput struct {
	ReceiverID      int64
	Content         string
	Subject         *string
	RelatedEntityID *int64
	Type            models.MessageType
}

// PageOptions selects a window of a conversation's ledger. AfterID zero
// starts at the beginning; Limit zero means no limit.
type PageOptions struct {
	AfterID int64
	Limit   int
}

// Ledger holds the append-only message history of every conversation.
type Ledger struct {
	store     store.DataStore
	registry  *Registry
	publisher Publisher
	logger    zerolog.Logger
}

// NewLedger creates a ledger. publisher may be nil, in which case no change
// events are emitted.
func NewLedger(ds store.DataStore, registry *Registry, publisher Publisher, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:     ds,
		registry:  registry,
		publisher: publisher,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// SendMessage appends a message from the principal to in.ReceiverID. The
// conversation is created on first contact. The insert and the pointer
// update commit together or not at all.
func (l *Ledger) SendMessage(ctx context.Context, p Principal, in SendMessageInput) (*models.Message, error) {
	senderID, err := p.id()
	if err != nil {
		return nil, err
	}
	in, err = normalizeInput(in)
	if err != nil {
		return nil, err
	}
	pair, err := NewPair(senderID, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := l.registry.ensureParticipants(ctx, senderID, in.ReceiverID); err != nil {
		return nil, err
	}

	var (
		msg     *models.Message
		created bool
	)
	err = runTx(ctx, l.store, "send_message", func(tx store.Tx) error {
		conv, isNew, err := l.registry.resolve(ctx, tx, pair)
		if err != nil {
			return err
		}
		created = isNew

		conv, err = tx.LockConversation(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}
		if conv == nil {
			return fmt.Errorf("%w: conversation vanished during send", store.ErrRetryable)
		}

		// Timestamps never run backwards within a conversation, even when the
		// clock does or several sends land in the same microsecond.
		at := l.registry.now()
		if at.Before(conv.LastActivity) {
			at = conv.LastActivity
		}

		m := &models.Message{
			ConversationID:  conv.ID,
			SenderID:        senderID,
			ReceiverID:      in.ReceiverID,
			Content:         in.Content,
			Subject:         in.Subject,
			RelatedEntityID: in.RelatedEntityID,
			Type:            in.Type,
			CreatedAt:       at,
		}
		if err := tx.InsertMessage(ctx, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := l.registry.touch(ctx, tx, m); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.ConversationsOpened.Inc()
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	l.logger.Debug().
		Int64("message_id", msg.ID).
		Int64("conversation_id", msg.ConversationID).
		Int64("sender_id", msg.SenderID).
		Int64("receiver_id", msg.ReceiverID).
		Str("message_type", string(msg.Type)).
		Msg("message sent")

	l.publish(ctx, models.Event{
		Type:           models.EventMessageSent,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		ParticipantID:  msg.ReceiverID,
		At:             msg.CreatedAt,
	})
	return msg, nil
}

// ListMessages returns the whole conversation in ledger order.
func (l *Ledger) ListMessages(ctx context.Context, conversationID int64, p Principal) ([]models.Message, error) {
	return l.ListMessagesPage(ctx, conversationID, p, PageOptions{})
}

// ListMessagesPage returns messages after opts.AfterID in ledger order.
func (l *Ledger) ListMessagesPage(ctx context.Context, conversationID int64, p Principal, opts PageOptions) ([]models.Message, error) {
	id, err := p.id()
	if err != nil {
		return nil, err
	}
	if opts.AfterID < 0 {
		return nil, fmt.Errorf("%w: after must not be negative", ErrValidation)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrValidation)
	}

	conv, err := l.registry.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, id); err != nil {
		return nil, err
	}

	msgs, err := l.store.ListMessages(ctx, conv.ID, opts.AfterID, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// MarkAsRead flips one message to read. Only the receiver may do so, and
// repeating the call is a no-op.
func (l *Ledger) MarkAsRead(ctx context.Context, messageID int64, p Principal) (*models.Message, error) {
	id, err := p.id()
	if err != nil {
		return nil, err
	}
	if messageID < 0 {
		return nil, fmt.Errorf("%w: message id %d is negative", ErrValidation, messageID)
	}

	msg, err := l.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != id {
		return nil, fmt.Errorf("%w: only the receiver may mark message %d as read", ErrForbidden, messageID)
	}
	if msg.IsRead {
		return msg, nil
	}

	readAt := l.registry.now()
	flipped, err := l.store.MarkMessageRead(ctx, msg.ID, readAt)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	if msg, err = l.getMessage(ctx, messageID); err != nil {
		return nil, err
	}

	if flipped {
		metrics.MessagesRead.Inc()
		l.publish(ctx, models.Event{
			Type:           models.EventMessageRead,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			ParticipantID:  msg.SenderID,
			At:             readAt,
		})
	}
	return msg, nil
}

// MarkConversationRead flips every unread message addressed to the
// principal in the conversation and returns how many changed.
func (l *Ledger) MarkConversationRead(ctx context.Context, conversationID int64, p Principal) (int64, error) {
	id, err := p.id()
	if err != nil {
		return 0, err
	}
	conv, err := l.registry.load(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if err := authorize(conv, id); err != nil {
		return 0, err
	}

	at := l.registry.now()
	n, err := l.store.MarkConversationRead(ctx, conv.ID, id, at)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}

	if n > 0 {
		metrics.MessagesRead.Add(float64(n))
		var lastID int64
		if conv.LastMessageID != nil {
			lastID = *conv.LastMessageID
		}
		l.publish(ctx, models.Event{
			Type:           models.EventConversationRead,
			ConversationID: conv.ID,
			MessageID:      lastID,
			ParticipantID:  conv.Other(id),
			At:             at,
		})
	}
	return n, nil
}

// UnreadCountFor counts unread messages addressed to the principal in one
// conversation.
func (l *Ledger) UnreadCountFor(ctx context.Context, p Principal, conversationID int64) (int64, error) {
	id, err := p.id()
	if err != nil {
		return 0, err
	}
	conv, err := l.registry.load(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if err := authorize(conv, id); err != nil {
		return 0, err
	}
	n, err := l.store.CountUnread(ctx, conv.ID, id)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// UnreadTotalFor counts unread messages addressed to the principal across
// all conversations.
func (l *Ledger) UnreadTotalFor(ctx context.Context, p Principal) (int64, error) {
	id, err := p.id()
	if err != nil {
		return 0, err
	}
	n, err := l.store.CountUnreadTotal(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (l *Ledger) getMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg, err := l.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, id)
	}
	return msg, nil
}

// publish is best effort: the change is already committed, so a failure is
// logged and counted but never returned.
func (l *Ledger) publish(ctx context.Context, evt models.Event) {
	if l.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := l.publisher.Publish(ctx, evt); err != nil {
		metrics.EventPublishFailures.Inc()
		l.logger.Warn().Err(err).
			Str("event_type", string(evt.Type)).
			Int64("message_id", evt.MessageID).
			Msg("failed to publish event")
	}
}

func normalizeInput(in SendMessageInput) (SendMessageInput, error) {
	if strings.TrimSpace(in.Content) == "" {
		return in, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(in.Content) > MaxContentBytes {
		return in, fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, MaxContentBytes)
	}
	if !utf8.ValidString(in.Content) {
		return in, fmt.Errorf("%w: content is not valid UTF-8", ErrValidation)
	}

	if in.Subject != nil {
		subject := strings.TrimSpace(*in.Subject)
		if subject == "" {
			in.Subject = nil
		} else if utf8.RuneCountInString(subject) > MaxSubjectLength {
			return in, fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
		} else {
			in.Subject = &subject
		}
	}

	if in.RelatedEntityID != nil && *in.RelatedEntityID <= 0 {
		return in, fmt.Errorf("%w: related entity id must be positive", ErrValidation)
	}

	typ, err := models.ParseMessageType(string(in.Type))
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	in.Type = typ
	return in, nil
}
