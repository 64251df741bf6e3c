package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/inbox/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func seedParticipants(t *testing.T, s *SQLiteStore) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	a, err := s.CreateParticipant(ctx, "key-a", "Ann", models.ParticipantTraveler)
	require.NoError(t, err)
	b, err := s.CreateParticipant(ctx, "key-b", "Blue Lagoon Tours", models.ParticipantCompany)
	require.NoError(t, err)
	return a.ID, b.ID
}

func TestSQLiteParticipants(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	a, _ := seedParticipants(t, s)

	got, err := s.GetParticipantByID(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, models.ParticipantTraveler, got.Kind)

	byKey, err := s.GetParticipantByPublicKey(ctx, "key-b")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, models.ParticipantCompany, byKey.Kind)

	missing, err := s.GetParticipantByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := s.ParticipantExists(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ParticipantExists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateParticipant(ctx, "key-a", "dup", models.ParticipantTraveler)
	assert.Error(t, err)
}

func TestSQLiteInsertConversationConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	a, b := seedParticipants(t, s)
	at := time.Date(2026, 1, 2, 3, 4, 5, 6789, time.UTC)

	var first, second *models.Conversation
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		first, err = tx.InsertConversation(ctx, a, b, at)
		if err != nil {
			return err
		}
		second, err = tx.InsertConversation(ctx, a, b, at)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Nil(t, second, "a second insert for the same pair yields nothing")
	assert.True(t, first.CreatedAt.Equal(ToMicros(at)))

	err = s.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertConversation(ctx, b, a, at)
		return err
	})
	assert.Error(t, err, "pairs must be stored in canonical order")
}

func TestSQLiteAdvanceConversationOnlyMovesForward(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	a, b := seedParticipants(t, s)
	t0 := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	var conv *models.Conversation
	var advanced []bool
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		conv, err = tx.InsertConversation(ctx, a, b, t0)
		if err != nil {
			return err
		}
		for _, id := range []int64{5, 3, 8} {
			ok, err := tx.AdvanceConversation(ctx, conv.ID, id, t0.Add(time.Duration(id)*time.Second))
			if err != nil {
				return err
			}
			advanced = append(advanced, ok)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, advanced)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, int64(8), *got.LastMessageID)
	assert.True(t, got.LastActivity.Equal(t0.Add(8*time.Second)))
}

func TestSQLiteInTxRollsBack(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	a, b := seedParticipants(t, s)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		conv, err := tx.InsertConversation(ctx, a, b, time.Now())
		if err != nil {
			return err
		}
		msg := &models.Message{
			ConversationID: conv.ID,
			SenderID:       a,
			ReceiverID:     b,
			Content:        "never committed",
			Type:           models.MessageDirect,
			CreatedAt:      time.Now(),
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Participants)
	assert.Zero(t, stats.Conversations)
	assert.Zero(t, stats.Messages)
	assert.Nil(t, stats.LastActivity)
}

func TestSQLiteMessagesRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	a, b := seedParticipants(t, s)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	subject := "Booking #12"
	related := int64(12)

	var convID int64
	var ids []int64
	err := s.InTx(ctx, func(tx Tx) error {
		conv, err := tx.InsertConversation(ctx, a, b, at)
		if err != nil {
			return err
		}
		convID = conv.ID
		for i := 0; i < 3; i++ {
			msg := &models.Message{
				ConversationID:  conv.ID,
				SenderID:        a,
				ReceiverID:      b,
				Content:         "hello",
				Subject:         &subject,
				RelatedEntityID: &related,
				Type:            models.MessageBooking,
				CreatedAt:       at,
			}
			if err := tx.InsertMessage(ctx, msg); err != nil {
				return err
			}
			ids = append(ids, msg.ID)
		}
		return nil
	})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, convID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, models.MessageBooking, m.Type)
		require.NotNil(t, m.Subject)
		assert.Equal(t, subject, *m.Subject)
		assert.Equal(t, related, *m.RelatedEntityID)
		assert.False(t, m.IsRead)
	}

	page, err := s.ListMessages(ctx, convID, ids[0], 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	flipped, err := s.MarkMessageRead(ctx, ids[0], at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = s.MarkMessageRead(ctx, ids[0], at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, flipped)

	read, err := s.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	assert.True(t, read.ReadAt.Equal(at.Add(time.Minute)))

	n, err := s.CountUnread(ctx, convID, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	marked, err := s.MarkConversationRead(ctx, convID, b, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	total, err := s.CountUnreadTotal(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestToMicros(t *testing.T) {
	in := time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.FixedZone("CET", 3600))
	out := ToMicros(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
}
