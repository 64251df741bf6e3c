package models

import "time"

// Conversation is the single thread shared by two participants.
// ParticipantLow is always strictly less than ParticipantHigh.
type Conversation struct {
	ID              int64     `json:"id"`
	ParticipantLow  int64     `json:"participant_low"`
	ParticipantHigh int64     `json:"participant_high"`
	LastMessageID   *int64    `json:"last_message_id,omitempty"`
	LastActivity    time.Time `json:"last_activity"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasParticipant reports whether id is one of the two members.
func (c *Conversation) HasParticipant(id int64) bool {
	return c.ParticipantLow == id || c.ParticipantHigh == id
}

// Other returns the member that is not id. The result is meaningless
// when id is not a member.
func (c *Conversation) Other(id int64) int64 {
	if c.ParticipantLow == id {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

// ConversationSummary is a conversation as seen from one of its members.
type ConversationSummary struct {
	Conversation
	OtherParticipantID int64 `json:"other_participant_id"`
	UnreadCount        int64 `json:"unread_count"`
}
