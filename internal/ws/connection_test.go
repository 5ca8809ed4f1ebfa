package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"sangam/internal/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type mockWS struct {
	readCh      chan models.ClientEnvelope
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEnvelope, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEnvelope); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	registerCh chan string
	removeCh   chan string
	out        chan models.ServerEvent
}

func newMockHub() *mockHub {
	return &mockHub{
		registerCh: make(chan string, 10),
		removeCh:   make(chan string, 10),
		out:        make(chan models.ServerEvent, 10),
	}
}

func (m *mockHub) Register(connID string) <-chan models.ServerEvent {
	m.registerCh <- connID
	return m.out
}

func (m *mockHub) Remove(connID string) {
	m.removeCh <- connID
}

type mockDispatcher struct {
	dispatchCh   chan models.ClientEnvelope
	disconnectCh chan string
	errToReturn  error
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		dispatchCh:   make(chan models.ClientEnvelope, 10),
		disconnectCh: make(chan string, 10),
	}
}

func (m *mockDispatcher) Dispatch(_ context.Context, _ string, env models.ClientEnvelope) error {
	m.dispatchCh <- env
	return m.errToReturn
}

func (m *mockDispatcher) Disconnect(connID string) {
	m.disconnectCh <- connID
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	dispatcher := newMockDispatcher()
	ws := newMockWS()
	connID := "conn1"

	conn := NewConnection(hub, dispatcher, ws, connID, nil)
	require.NotNil(t, conn)
	require.Equal(t, connID, conn.ID())

	select {
	case id := <-hub.registerCh:
		require.Equal(t, connID, id)
	default:
		t.Fatal("Register not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client -> dispatcher
	ws.readCh <- models.ClientEnvelope{Event: models.ClientEventPing}

	select {
	case env := <-dispatcher.dispatchCh:
		require.Equal(t, models.ClientEventPing, env.Event)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not receive event")
	}

	// 2. Hub -> client
	hub.out <- models.ServerEvent{Event: models.ServerEventPong}

	select {
	case written := <-ws.writeCh:
		ev, ok := written.(models.ServerEvent)
		require.True(t, ok, "wrong type %T", written)
		require.Equal(t, models.ServerEventPong, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("WS did not receive server event")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	require.Equal(t, connID, <-dispatcher.disconnectCh)
	require.Equal(t, connID, <-hub.removeCh)
	require.True(t, ws.closed)
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	dispatcher := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, dispatcher, ws, "conn2", nil)

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on error")
	}

	require.True(t, ws.closed)
	require.Equal(t, "conn2", <-dispatcher.disconnectCh)
}

func TestConnection_ClientDisconnect(t *testing.T) {
	hub := newMockHub()
	dispatcher := newMockDispatcher()
	dispatcher.errToReturn = ErrClientDisconnect
	ws := newMockWS()

	conn := NewConnection(hub, dispatcher, ws, "conn3", nil)

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	ws.readCh <- models.ClientEnvelope{Event: models.ClientEventDisconnect}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after disconnect event")
	}
	require.True(t, ws.closed)
}

func TestConnection_Evicted(t *testing.T) {
	hub := newMockHub()
	dispatcher := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, dispatcher, ws, "conn4", nil)

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	close(hub.out)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after eviction")
	}
	require.True(t, ws.closed)
}

func TestConnection_RateLimit(t *testing.T) {
	hub := newMockHub()
	dispatcher := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, dispatcher, ws, "conn5", rate.NewLimiter(rate.Every(time.Hour), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientEnvelope{Event: models.ClientEventPing}
	ws.readCh <- models.ClientEnvelope{Event: models.ClientEventPing}

	select {
	case <-dispatcher.dispatchCh:
	case <-time.After(time.Second):
		t.Fatal("first event not dispatched")
	}

	select {
	case written := <-ws.writeCh:
		ev := written.(models.ServerEvent)
		require.Equal(t, models.ServerEventError, ev.Event)
		require.Equal(t, "rate limit exceeded", ev.Data.(models.ErrorMessage).Message)
	case <-time.After(time.Second):
		t.Fatal("rate limit error not written")
	}
	require.Empty(t, dispatcher.dispatchCh)

	cancel()
	<-done
}
