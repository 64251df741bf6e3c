package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/inbox/internal/api/middleware"
	"github.com/eldtechnologies/inbox/internal/messaging"
	"github.com/eldtechnologies/inbox/internal/models"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// OpenConversationRequest represents the open conversation request body.
type OpenConversationRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

// ConversationListResponse represents the conversation list response.
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// MessageListResponse represents a page of a conversation's messages.
type MessageListResponse struct {
	Messages  []models.Message `json:"messages"`
	NextAfter int64            `json:"next_after,omitempty"`
}

// UnreadResponse reports an unread count.
type UnreadResponse struct {
	Unread int64 `json:"unread"`
}

// MarkedReadResponse reports how many messages a bulk read changed.
type MarkedReadResponse struct {
	Marked int64 `json:"marked"`
}

// OpenConversation returns the conversation with another participant,
// creating it on first contact.
func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	var req OpenConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ParticipantID == 0 {
		h.Error(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	conv, err := h.registry.Open(r.Context(), middleware.PrincipalFromContext(r.Context()), req.ParticipantID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// ListConversations lists the caller's conversations, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.registry.ListConversationsFor(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ConversationListResponse{Conversations: summaries})
}

// GetConversation returns one conversation the caller belongs to.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	conv, err := h.registry.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// ListMessages returns a page of messages in ledger order.
// Query params: after (message id, exclusive), limit (default 100, max 500).
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	opts := messaging.PageOptions{Limit: defaultPageLimit}
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || after < 0 {
			h.Error(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		opts.AfterID = after
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		opts.Limit = limit
	}
	if opts.Limit > maxPageLimit {
		opts.Limit = maxPageLimit
	}

	msgs, err := h.ledger.ListMessagesPage(r.Context(), id, middleware.PrincipalFromContext(r.Context()), opts)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	resp := MessageListResponse{Messages: msgs}
	if len(msgs) == opts.Limit {
		resp.NextAfter = msgs[len(msgs)-1].ID
	}
	h.JSON(w, http.StatusOK, resp)
}

// ConversationUnread returns the caller's unread count in one conversation.
func (h *Handler) ConversationUnread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	n, err := h.ledger.UnreadCountFor(r.Context(), middleware.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, UnreadResponse{Unread: n})
}

// MarkConversationRead marks every message addressed to the caller in the
// conversation as read.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	n, err := h.ledger.MarkConversationRead(r.Context(), id, middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, MarkedReadResponse{Marked: n})
}
