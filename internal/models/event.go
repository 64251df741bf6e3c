package models

import "time"

// EventType names a change that notification consumers may react to.
type EventType string

const (
	EventMessageSent EventType = "message.sent"
	EventMessageRead EventType = "message.read"

	// EventConversationRead reports a bulk read; MessageID is the newest
	// message of the conversation at that point.
	EventConversationRead EventType = "conversation.read"
)

// Event is published after a ledger change has been committed.
// ParticipantID is the participant who should be notified.
type Event struct {
	ID             string    `json:"id"` // ULID
	Type           EventType `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	ParticipantID  int64     `json:"participant_id"`
	At             time.Time `json:"at"`
}
