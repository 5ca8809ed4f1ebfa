package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"sangam/internal/api"
	"sangam/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event models.ServerEventType `json:"event"`
	Data  json.RawMessage        `json:"data"`
}

func TestIntegration(t *testing.T) {
	adminAddr := freeAddr(t)
	apiAddr := freeAddr(t)

	t.Setenv("SANGAM_DB", filepath.Join(t.TempDir(), "integration.db"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()

	waitForServer(t, fmt.Sprintf("http://%s/health", adminAddr), 50)
	waitForServer(t, fmt.Sprintf("http://%s/api/chat/online-users", apiAddr), 50)

	// Step 1: Create users via the admin API
	for _, name := range []string{"alice", "bob"} {
		body, _ := json.Marshal(api.AddUserRequest{Username: name})
		resp, err := http.Post(fmt.Sprintf("http://%s/admin/users", adminAddr), "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Step 2: Both users join, alice learns that bob came online
	alice := dial(t, apiAddr)
	send(t, alice, models.ClientEventJoin, models.JoinRequest{UserID: "alice", DisplayName: "Alice"})
	waitFor(t, alice, models.ServerEventJoinSuccess)

	bob := dial(t, apiAddr)
	send(t, bob, models.ClientEventJoin, models.JoinRequest{UserID: "bob", DisplayName: "Bob"})
	waitFor(t, bob, models.ServerEventJoinSuccess)

	var online models.UserPresenceChange
	require.NoError(t, json.Unmarshal(waitFor(t, alice, models.ServerEventUserOnline), &online))
	require.Equal(t, "bob", online.UserID)

	// Step 3: alice writes to bob
	send(t, alice, models.ClientEventSendMessage, models.SendMessageRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		Message:    "hi & bye > now",
		TempID:     "tmp-1",
	})

	var sent models.MessageSent
	require.NoError(t, json.Unmarshal(waitFor(t, alice, models.ServerEventMessageSent), &sent))
	require.Equal(t, "tmp-1", sent.TempID)
	require.Equal(t, models.StatusSent, sent.Status)

	var incoming models.NewMessage
	require.NoError(t, json.Unmarshal(waitFor(t, bob, models.ServerEventNewMessage), &incoming))
	require.Equal(t, "hi & bye > now", incoming.Body)
	require.Equal(t, "alice", incoming.SenderID)
	require.Equal(t, sent.MessageID, incoming.ID)

	// Step 4: The message is in the history
	resp, err := http.Get(fmt.Sprintf("http://%s/api/chat/history?senderId=bob&receiverId=alice", apiAddr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Success bool               `json:"success"`
		Data    models.MessagePage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.True(t, history.Success)
	require.Len(t, history.Data.Messages, 1)
	require.False(t, history.Data.Messages[0].IsRead)
	require.Equal(t, "hi & bye > now", history.Data.Messages[0].Body)

	// Step 4b: Search matches the text as sent
	resp, err = http.Get(fmt.Sprintf("http://%s/api/chat/search?userId=bob&query=%s", apiAddr, url.QueryEscape("& bye")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var found struct {
		Data models.MessagePage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	require.Len(t, found.Data.Messages, 1)

	// Step 5: Health reports both users
	resp, err = http.Get(fmt.Sprintf("http://%s/health", adminAddr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, 2, health.Users)
	require.Equal(t, 2, health.Connections)

	// Step 6: bob leaves, alice sees him go offline
	require.NoError(t, bob.Close())
	var offline models.UserPresenceChange
	require.NoError(t, json.Unmarshal(waitFor(t, alice, models.ServerEventUserOffline), &offline))
	require.Equal(t, "bob", offline.UserID)

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}

func dial(t *testing.T, apiAddr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", apiAddr), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event models.ClientEventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEnvelope{Event: event, Data: data}))
}

// waitFor reads frames until one carries the wanted event and returns its data.
func waitFor(t *testing.T, conn *websocket.Conn, event models.ServerEventType) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f.Data
		}
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
