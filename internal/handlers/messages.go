package handlers

import (
	"net/http"

	"github.com/eldtechnologies/inbox/internal/api/middleware"
	"github.com/eldtechnologies/inbox/internal/messaging"
	"github.com/eldtechnologies/inbox/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ReceiverID      int64   `json:"receiver_id"`
	Content         string  `json:"content"`
	Subject         *string `json:"subject,omitempty"`
	RelatedEntityID *int64  `json:"related_entity_id,omitempty"`
	MessageType     string  `json:"message_type,omitempty"`
}

// SendMessage appends a message to the conversation between the caller and
// the receiver.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ReceiverID == 0 {
		h.Error(w, http.StatusBadRequest, "receiver_id is required")
		return
	}

	msg, err := h.ledger.SendMessage(r.Context(), middleware.PrincipalFromContext(r.Context()), messaging.SendMessageInput{
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
		Subject:         req.Subject,
		RelatedEntityID: req.RelatedEntityID,
		Type:            models.MessageType(req.MessageType),
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// MarkMessageRead marks one message as read by its receiver.
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}

	msg, err := h.ledger.MarkAsRead(r.Context(), id, middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}
