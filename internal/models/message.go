package models

import (
	"fmt"
	"time"
)

// MessageType tags a message for downstream notification logic.
type MessageType string

const (
	MessageDirect  MessageType = "direct"
	MessageInquiry MessageType = "inquiry"
	MessageBooking MessageType = "booking"
)

// ParseMessageType converts s to a MessageType. An empty string yields MessageDirect.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case "":
		return MessageDirect, nil
	case MessageDirect, MessageInquiry, MessageBooking:
		return MessageType(s), nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

// Message is one entry of a conversation's ledger. Everything except
// IsRead and ReadAt is immutable after insertion.
type Message struct {
	ID              int64       `json:"id"`
	ConversationID  int64       `json:"conversation_id"`
	SenderID        int64       `json:"sender_id"`
	ReceiverID      int64       `json:"receiver_id"`
	Content         string      `json:"content"`
	Subject         *string     `json:"subject,omitempty"`
	RelatedEntityID *int64      `json:"related_entity_id,omitempty"`
	Type            MessageType `json:"message_type"`
	IsRead          bool        `json:"is_read"`
	ReadAt          *time.Time  `json:"read_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Before reports whether m sorts before o in ledger order: by CreatedAt,
// then by ID.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
