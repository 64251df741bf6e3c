package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/inbox/internal/models"
)

func TestSendMessageFirstContact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 2)
	traveler, company := ids[0], ids[1]

	msg, err := env.ledger.SendMessage(ctx, NewPrincipal(traveler), SendMessageInput{
		ReceiverID:      company,
		Content:         "Is the October tour still open?",
		Subject:         lo.ToPtr("  Tour availability  "),
		RelatedEntityID: lo.ToPtr(int64(42)),
		Type:            models.MessageInquiry,
	})
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, traveler, msg.SenderID)
	assert.Equal(t, company, msg.ReceiverID)
	assert.Equal(t, models.MessageInquiry, msg.Type)
	assert.False(t, msg.IsRead)
	require.NotNil(t, msg.Subject)
	assert.Equal(t, "Tour availability", *msg.Subject)

	conv, err := env.registry.Get(ctx, NewPrincipal(company), msg.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, msg.ID, *conv.LastMessageID)
	assert.True(t, conv.LastActivity.Equal(msg.CreatedAt))

	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMessageSent, events[0].Type)
	assert.Equal(t, company, events[0].ParticipantID)
	assert.Equal(t, msg.ID, events[0].MessageID)
}

func TestSendMessageReusesConversation(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)

	m1 := env.send(t, ids[0], ids[1], "hello")
	m2 := env.send(t, ids[1], ids[0], "hi there")
	m3 := env.send(t, ids[0], ids[1], "how are you")

	assert.Equal(t, m1.ConversationID, m2.ConversationID)
	assert.Equal(t, m1.ConversationID, m3.ConversationID)

	msgs, err := env.ledger.ListMessages(context.Background(), m1.ConversationID, NewPrincipal(ids[1]))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{m1.ID, m2.ID, m3.ID}, lo.Map(msgs, func(m models.Message, _ int) int64 { return m.ID }))
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)
	me := NewPrincipal(ids[0])
	longSubject := strings.Repeat("s", MaxSubjectLength+1)
	badRelated := int64(0)

	tests := []struct {
		name string
		in   SendMessageInput
		want error
	}{
		{"empty content", SendMessageInput{ReceiverID: ids[1], Content: ""}, ErrValidation},
		{"whitespace content", SendMessageInput{ReceiverID: ids[1], Content: " \n\t "}, ErrValidation},
		{"oversized content", SendMessageInput{ReceiverID: ids[1], Content: strings.Repeat("x", MaxContentBytes+1)}, ErrValidation},
		{"long subject", SendMessageInput{ReceiverID: ids[1], Content: "ok", Subject: &longSubject}, ErrValidation},
		{"related entity zero", SendMessageInput{ReceiverID: ids[1], Content: "ok", RelatedEntityID: &badRelated}, ErrValidation},
		{"unknown type", SendMessageInput{ReceiverID: ids[1], Content: "ok", Type: "spam"}, ErrValidation},
		{"to self", SendMessageInput{ReceiverID: ids[0], Content: "ok"}, ErrInvalidPair},
		{"unknown receiver", SendMessageInput{ReceiverID: 4242, Content: "ok"}, ErrParticipantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.SendMessage(context.Background(), me, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	summaries, err := env.registry.ListConversationsFor(context.Background(), me)
	require.NoError(t, err)
	assert.Empty(t, summaries, "rejected sends must not create conversations")
}

func TestSendMessageUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)

	_, err := env.ledger.SendMessage(context.Background(), Principal{}, SendMessageInput{
		ReceiverID: ids[1],
		Content:    "hello",
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSendMessageDefaultsToDirect(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)

	msg := env.send(t, ids[0], ids[1], "plain")
	assert.Equal(t, models.MessageDirect, msg.Type)
	assert.Nil(t, msg.Subject)
	assert.Nil(t, msg.RelatedEntityID)
}

func TestSendMessageSameInstant(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	env.registry.WithClock(clock.Now)

	var sent []*models.Message
	for i := 0; i < 5; i++ {
		from, to := ids[i%2], ids[(i+1)%2]
		sent = append(sent, env.send(t, from, to, "same instant"))
	}

	for i := 1; i < len(sent); i++ {
		assert.True(t, sent[i].CreatedAt.Equal(sent[0].CreatedAt))
		assert.Greater(t, sent[i].ID, sent[i-1].ID)
	}

	conv, err := env.registry.Get(context.Background(), NewPrincipal(ids[0]), sent[0].ConversationID)
	require.NoError(t, err)
	assert.Equal(t, sent[len(sent)-1].ID, *conv.LastMessageID)

	msgs, err := env.ledger.ListMessages(context.Background(), conv.ID, NewPrincipal(ids[0]))
	require.NoError(t, err)
	assert.Equal(t,
		lo.Map(sent, func(m *models.Message, _ int) int64 { return m.ID }),
		lo.Map(msgs, func(m models.Message, _ int) int64 { return m.ID }))
}

func TestSendMessageClockRunsBackwards(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)
	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	env.registry.WithClock(clock.Now)

	first := env.send(t, ids[0], ids[1], "first")
	clock.Set(start.Add(-time.Hour))
	second := env.send(t, ids[1], ids[0], "second")

	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
	assert.True(t, first.Before(second))

	conv, err := env.registry.Get(context.Background(), NewPrincipal(ids[0]), first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, *conv.LastMessageID)
	assert.True(t, conv.LastActivity.Equal(first.CreatedAt))
}

func TestSendMessageConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		ids := env.participants(t, 2)

		const senders = 20
		errs := make([]error, senders)

		var wg sync.WaitGroup
		for i := 0; i < senders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := ids[i%2], ids[(i+1)%2]
				_, errs[i] = env.ledger.SendMessage(ctx, NewPrincipal(from), SendMessageInput{
					ReceiverID: to,
					Content:    "concurrent",
				})
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		summaries, err := env.registry.ListConversationsFor(ctx, NewPrincipal(ids[0]))
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		conv := summaries[0].Conversation

		msgs, err := env.ledger.ListMessages(ctx, conv.ID, NewPrincipal(ids[0]))
		require.NoError(t, err)
		require.Len(t, msgs, senders)

		for i := 1; i < len(msgs); i++ {
			assert.True(t, msgs[i-1].Before(&msgs[i]))
			assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
		}
		last := msgs[len(msgs)-1]
		require.NotNil(t, conv.LastMessageID)
		assert.Equal(t, last.ID, *conv.LastMessageID)
		assert.True(t, conv.LastActivity.Equal(last.CreatedAt))
	})
}

func TestListMessagesAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 3)
	msg := env.send(t, ids[0], ids[1], "private")

	_, err := env.ledger.ListMessages(ctx, msg.ConversationID, NewPrincipal(ids[2]))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.ledger.ListMessages(ctx, msg.ConversationID+50, NewPrincipal(ids[0]))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.ledger.ListMessages(ctx, msg.ConversationID, Principal{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestListMessagesPage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 2)
	me := NewPrincipal(ids[0])

	var sent []*models.Message
	for i := 0; i < 6; i++ {
		sent = append(sent, env.send(t, ids[i%2], ids[(i+1)%2], "page"))
	}
	convID := sent[0].ConversationID

	page, err := env.ledger.ListMessagesPage(ctx, convID, me, PageOptions{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, sent[3].ID, page[3].ID)

	rest, err := env.ledger.ListMessagesPage(ctx, convID, me, PageOptions{AfterID: page[3].ID})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, sent[4].ID, rest[0].ID)

	none, err := env.ledger.ListMessagesPage(ctx, convID, me, PageOptions{AfterID: sent[5].ID})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = env.ledger.ListMessagesPage(ctx, convID, me, PageOptions{Limit: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListMessagesIsStable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 2)
	msg := env.send(t, ids[0], ids[1], "one")
	env.send(t, ids[1], ids[0], "two")

	first, err := env.ledger.ListMessages(ctx, msg.ConversationID, NewPrincipal(ids[0]))
	require.NoError(t, err)
	second, err := env.ledger.ListMessages(ctx, msg.ConversationID, NewPrincipal(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third := env.send(t, ids[0], ids[1], "three")
	after, err := env.ledger.ListMessages(ctx, msg.ConversationID, NewPrincipal(ids[0]))
	require.NoError(t, err)
	require.Len(t, after, len(first)+1)
	assert.Equal(t, first, after[:len(first)])
	assert.Equal(t, third.ID, after[len(first)].ID)
	assert.Equal(t, "three", after[len(first)].Content)
}

func TestMarkAsRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 3)
	sender, receiver, outsider := ids[0], ids[1], ids[2]
	msg := env.send(t, sender, receiver, "please confirm")

	_, err := env.ledger.MarkAsRead(ctx, msg.ID, NewPrincipal(sender))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.ledger.MarkAsRead(ctx, msg.ID, NewPrincipal(outsider))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.ledger.MarkAsRead(ctx, msg.ID+1000, NewPrincipal(receiver))
	assert.ErrorIs(t, err, ErrNotFound)

	read, err := env.ledger.MarkAsRead(ctx, msg.ID, NewPrincipal(receiver))
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	again, err := env.ledger.MarkAsRead(ctx, msg.ID, NewPrincipal(receiver))
	require.NoError(t, err)
	assert.True(t, again.IsRead)
	assert.True(t, read.ReadAt.Equal(*again.ReadAt))

	assert.Equal(t, msg.Content, again.Content)
	assert.True(t, msg.CreatedAt.Equal(again.CreatedAt))

	var reads int
	for _, evt := range env.publisher.Events() {
		if evt.Type == models.EventMessageRead {
			reads++
			assert.Equal(t, sender, evt.ParticipantID)
		}
	}
	assert.Equal(t, 1, reads)
}

func TestUnreadCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 4)
	me := ids[0]

	m1 := env.send(t, ids[1], me, "a")
	env.send(t, ids[1], me, "b")
	m3 := env.send(t, ids[2], me, "c")
	env.send(t, me, ids[1], "mine")

	n, err := env.ledger.UnreadCountFor(ctx, NewPrincipal(me), m1.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = env.ledger.UnreadCountFor(ctx, NewPrincipal(ids[1]), m1.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := env.ledger.UnreadTotalFor(ctx, NewPrincipal(me))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, err = env.ledger.UnreadCountFor(ctx, NewPrincipal(ids[3]), m1.ConversationID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.ledger.UnreadCountFor(ctx, NewPrincipal(me), m3.ConversationID+100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.ledger.MarkAsRead(ctx, m1.ID, NewPrincipal(me))
	require.NoError(t, err)
	total, err = env.ledger.UnreadTotalFor(ctx, NewPrincipal(me))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestMarkConversationRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.participants(t, 3)
	me := NewPrincipal(ids[0])

	m := env.send(t, ids[1], ids[0], "one")
	env.send(t, ids[1], ids[0], "two")
	env.send(t, ids[0], ids[1], "reply")

	n, err := env.ledger.MarkConversationRead(ctx, m.ConversationID, me)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = env.ledger.MarkConversationRead(ctx, m.ConversationID, me)
	require.NoError(t, err)
	assert.Zero(t, n)

	other, err := env.ledger.UnreadCountFor(ctx, NewPrincipal(ids[1]), m.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "the other side's unread messages are untouched")

	_, err = env.ledger.MarkConversationRead(ctx, m.ConversationID, NewPrincipal(ids[2]))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)
	env.publisher.fail = true

	msg := env.send(t, ids[0], ids[1], "still delivered")
	assert.NotZero(t, msg.ID)
	assert.Empty(t, env.publisher.Events())
}

func TestLedgerWithoutPublisher(t *testing.T) {
	env := newTestEnv(t)
	ids := env.participants(t, 2)
	env.ledger.publisher = nil

	msg := env.send(t, ids[0], ids[1], "quiet")
	_, err := env.ledger.MarkAsRead(context.Background(), msg.ID, NewPrincipal(ids[1]))
	require.NoError(t, err)
}
