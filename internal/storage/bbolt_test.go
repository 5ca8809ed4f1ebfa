package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sangam/internal/chat"
	"sangam/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insert(t *testing.T, store *BboltStorage, from, to, body string, at time.Time) models.Message {
	t.Helper()
	msg, err := store.InsertMessage(models.Message{
		SenderID:       from,
		ReceiverID:     to,
		Body:           body,
		Type:           models.MessageTypeText,
		ConversationID: chat.ConversationID(from, to),
		Timestamp:      at,
	})
	require.NoError(t, err)
	return msg
}

func TestStorage_Users(t *testing.T) {
	store := newTestStorage(t)

	require.NoError(t, store.UpsertUser(models.User{ID: "u1", UserName: "alice", DisplayName: "Alice"}))
	require.NoError(t, store.UpsertUser(models.User{ID: "u2", UserName: "bob", DisplayName: "Bob"}))

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	require.Equal(t, "Alice", user.DisplayName)
	require.False(t, user.Presence.Online)

	_, err = store.GetUser("missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	seen := time.Date(2025, 9, 22, 11, 35, 0, 0, time.UTC)
	require.NoError(t, store.UpdatePresence("u1", true, seen))

	user, err = store.GetUser("u1")
	require.NoError(t, err)
	require.True(t, user.Presence.Online)
	require.True(t, seen.Equal(user.Presence.LastSeen))

	online, err := store.ListOnlineUsers()
	require.NoError(t, err)
	require.Len(t, online, 1)
	require.Equal(t, "u1", online[0].ID)

	err = store.UpdatePresence("missing", true, seen)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_ResetPresence(t *testing.T) {
	store := newTestStorage(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertUser(models.User{ID: "u1"}))
	require.NoError(t, store.UpsertUser(models.User{ID: "u2"}))
	require.NoError(t, store.UpdatePresence("u1", true, now.Add(-time.Hour)))

	reset, err := store.ResetPresence(now)
	require.NoError(t, err)
	require.Equal(t, 1, reset)

	online, err := store.ListOnlineUsers()
	require.NoError(t, err)
	require.Empty(t, online)

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	require.True(t, now.Equal(user.Presence.LastSeen))
}

func TestStorage_PushSubscription(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(models.User{ID: "u1"}))

	sub := &models.PushSubscription{Endpoint: "https://push.example/abc", P256dh: "key", Auth: "auth"}
	require.NoError(t, store.SetPushSubscription("u1", sub))

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	require.Equal(t, sub, user.PushSubscription)

	require.NoError(t, store.SetPushSubscription("u1", nil))
	user, err = store.GetUser("u1")
	require.NoError(t, err)
	require.Nil(t, user.PushSubscription)
}

func TestStorage_Messages(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().Add(-time.Hour)

	first := insert(t, store, "u1", "u2", "hello", base)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "u1_u2", first.ConversationID)
	require.False(t, first.IsRead)

	insert(t, store, "u2", "u1", "hi", base.Add(time.Second))
	insert(t, store, "u1", "u2", "how are you", base.Add(2*time.Second))
	insert(t, store, "u1", "u3", "other chat", base.Add(3*time.Second))

	page, err := store.ListMessages(chat.ConversationID("u2", "u1"), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Messages, 2)
	// Newest page, chronological inside.
	require.Equal(t, "hi", page.Messages[0].Body)
	require.Equal(t, "how are you", page.Messages[1].Body)

	page, err = store.ListMessages("u1_u2", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "hello", page.Messages[0].Body)

	page, err = store.ListMessages("nobody_none", 1, 10)
	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.Equal(t, 0, page.Pagination.Total)

	got, err := store.GetMessage(first.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Body)
	require.True(t, first.Timestamp.Equal(got.Timestamp))
}

func TestStorage_MarkRead(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now()

	m1 := insert(t, store, "u1", "u2", "one", now)
	m2 := insert(t, store, "u1", "u2", "two", now.Add(time.Second))
	m3 := insert(t, store, "u1", "u2", "three", now.Add(2*time.Second))

	read, err := store.MarkRead(m1.ID, now)
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	_, err = store.MarkRead("missing", now)
	require.ErrorIs(t, err, models.ErrNotFound)

	changed, err := store.MarkReadMany([]string{m1.ID, m2.ID, "missing"}, now)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, m2.ID, changed[0].ID)

	changed, err = store.MarkConversationRead("u2", "u1", now)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, m3.ID, changed[0].ID)

	got, err := store.GetMessage(m3.ID)
	require.NoError(t, err)
	require.True(t, got.IsRead)
}

func TestStorage_DeleteMessage(t *testing.T) {
	store := newTestStorage(t)
	msg := insert(t, store, "u1", "u2", "oops", time.Now())

	err := store.DeleteMessage(msg.ID, "u2")
	require.ErrorIs(t, err, models.ErrForbidden)

	require.NoError(t, store.DeleteMessage(msg.ID, "u1"))

	_, err = store.GetMessage(msg.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	err = store.DeleteMessage(msg.ID, "u1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_ChatList(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().Add(-time.Hour)

	insert(t, store, "u2", "u1", "from bob", base)
	insert(t, store, "u2", "u1", "from bob again", base.Add(time.Second))
	insert(t, store, "u1", "u3", "to carol", base.Add(2*time.Second))
	insert(t, store, "u2", "u3", "not mine", base.Add(3*time.Second))

	entries, err := store.ChatList("u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "u3", entries[0].PartnerID)
	require.Equal(t, "to carol", entries[0].LastMessage.Body)
	require.Equal(t, 0, entries[0].UnreadCount)

	require.Equal(t, "u2", entries[1].PartnerID)
	require.Equal(t, "from bob again", entries[1].LastMessage.Body)
	require.Equal(t, 2, entries[1].UnreadCount)
}

func TestStorage_SearchMessages(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().Add(-time.Hour)

	insert(t, store, "u1", "u2", "Meeting at noon", base)
	insert(t, store, "u2", "u1", "the meeting moved", base.Add(time.Second))
	insert(t, store, "u1", "u3", "lunch?", base.Add(2*time.Second))
	insert(t, store, "u2", "u3", "meeting without u1", base.Add(3*time.Second))

	page, err := store.SearchMessages("u1", "MEETING", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 2, page.Pagination.Total)
	require.Equal(t, "the meeting moved", page.Messages[0].Body)
	require.Equal(t, "Meeting at noon", page.Messages[1].Body)

	page, err = store.SearchMessages("u1", "meeting", 2, 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "Meeting at noon", page.Messages[0].Body)
}

func TestStorage_SearchMessages_Special_Characters(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().Add(-time.Hour)

	insert(t, store, "u1", "u2", "Tom & Jerry: 5 > 3", base)
	insert(t, store, "u2", "u1", "fish and chips", base.Add(time.Second))

	for _, query := range []string{"&", "tom & jerry", "5 > 3"} {
		page, err := store.SearchMessages("u1", query, 1, 20)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1, query)
		require.Equal(t, "Tom & Jerry: 5 > 3", page.Messages[0].Body)
	}
}

type countingStore struct {
	*BboltStorage
	gets int
}

func (c *countingStore) GetUser(userID string) (models.User, error) {
	c.gets++
	return c.BboltStorage.GetUser(userID)
}

func TestCachedDirectory(t *testing.T) {
	store := &countingStore{BboltStorage: newTestStorage(t)}
	require.NoError(t, store.UpsertUser(models.User{ID: "u1", DisplayName: "Alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := NewCachedDirectory(ctx, store, time.Minute)

	for range 3 {
		user, err := dir.GetUser("u1")
		require.NoError(t, err)
		require.Equal(t, "Alice", user.DisplayName)
	}
	require.Equal(t, 1, store.gets)

	require.NoError(t, dir.UpdatePresence("u1", true, time.Now()))
	user, err := dir.GetUser("u1")
	require.NoError(t, err)
	require.True(t, user.Presence.Online)
	require.Equal(t, 2, store.gets)

	_, err = dir.GetUser("missing")
	require.True(t, errors.Is(err, models.ErrNotFound))
}
