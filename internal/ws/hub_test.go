package ws

import (
	"testing"

	"sangam/internal/chat"
	"sangam/internal/models"

	"github.com/stretchr/testify/require"
)

func drain(ch <-chan models.ServerEvent) []models.ServerEvent {
	var events []models.ServerEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestHub_Lifecycle(t *testing.T) {
	h := NewHub(8)

	ch1 := h.Register("c1")
	ch2 := h.Register("c2")
	require.NotNil(t, ch1)
	require.NotNil(t, ch2)

	// Registering twice returns the same queue.
	require.Equal(t, ch1, h.Register("c1"))

	// 1. Rooms
	require.True(t, h.JoinRoom("c1", "u1_u2"))
	require.False(t, h.JoinRoom("c1", "u1_u2"))
	require.True(t, h.JoinRoom("c2", "u1_u2"))
	require.Equal(t, []string{"c1", "c2"}, h.Members("u1_u2"))
	require.False(t, h.JoinRoom("unknown", "u1_u2"))

	// 2. Room delivery respects the excluded connection
	h.EmitToRoom("u1_u2", models.ServerEvent{Event: models.ServerEventUserTyping}, "c1")
	require.Empty(t, drain(ch1))
	require.Len(t, drain(ch2), 1)

	// 3. Direct and broadcast delivery
	h.Emit("c1", models.ServerEvent{Event: models.ServerEventPong})
	require.Len(t, drain(ch1), 1)
	require.Empty(t, drain(ch2))

	h.Broadcast(models.ServerEvent{Event: models.ServerEventOnlineUsersCount}, "")
	require.Len(t, drain(ch1), 1)
	require.Len(t, drain(ch2), 1)

	// 4. Leave
	require.True(t, h.LeaveRoom("c2", "u1_u2"))
	require.False(t, h.LeaveRoom("c2", "u1_u2"))
	require.Equal(t, []string{"c1"}, h.Members("u1_u2"))

	// 5. Remove closes the queue and clears memberships
	h.Remove("c1")
	_, ok := <-ch1
	require.False(t, ok)
	require.Empty(t, h.Members("u1_u2"))

	// Removing twice is harmless
	h.Remove("c1")
	h.Emit("c1", models.ServerEvent{Event: models.ServerEventPong})
}

func TestHub_EmitToUser_Reaches_All_Devices(t *testing.T) {
	h := NewHub(8)
	phone := h.Register("phone")
	laptop := h.Register("laptop")
	other := h.Register("other")

	h.JoinRoom("phone", chat.PersonalChannel("u1"))
	h.JoinRoom("laptop", chat.PersonalChannel("u1"))
	h.JoinRoom("other", chat.PersonalChannel("u2"))

	h.EmitToUser("u1", models.ServerEvent{Event: models.ServerEventNewMessage})

	require.Len(t, drain(phone), 1)
	require.Len(t, drain(laptop), 1)
	require.Empty(t, drain(other))
}

func TestHub_Slow_Consumer_Is_Dropped(t *testing.T) {
	h := NewHub(2)
	slow := h.Register("slow")
	fast := h.Register("fast")

	for range 3 {
		h.Broadcast(models.ServerEvent{Event: models.ServerEventPong}, "")
		drain(fast)
	}

	// The slow queue kept what it had buffered and was then closed.
	events := drain(slow)
	require.Len(t, events, 2)
	_, ok := <-slow
	require.False(t, ok)

	// The fast consumer is unaffected.
	h.Emit("fast", models.ServerEvent{Event: models.ServerEventPong})
	require.Len(t, drain(fast), 1)
}

func TestHub_Close_Evicts(t *testing.T) {
	h := NewHub(2)
	ch := h.Register("c1")
	h.JoinRoom("c1", "room")

	h.Close("c1")

	_, ok := <-ch
	require.False(t, ok)
	require.Empty(t, h.Members("room"))
}
