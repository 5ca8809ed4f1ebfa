package chat

import (
	"testing"

	"sangam/internal/models"

	"github.com/stretchr/testify/require"
)

func TestConversationID_Commutative(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"alice", "bob"},
		{"64f1c2", "64f1c1"},
		{"same", "same"},
		{"", "x"},
	}
	for _, p := range pairs {
		require.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]), "pair %v", p)
	}
}

func TestConversationID_Format(t *testing.T) {
	require.Equal(t, "a_b", ConversationID("b", "a"))
	require.Equal(t, "u1_u2", ConversationID("u1", "u2"))
}

func TestConversationID_Distinct(t *testing.T) {
	require.NotEqual(t, ConversationID("a", "bc"), ConversationID("ab", "c"))
}

func TestParticipants(t *testing.T) {
	a, b, ok := Participants(ConversationID("u2", "u1"))
	require.True(t, ok)
	require.Equal(t, "u1", a)
	require.Equal(t, "u2", b)

	_, _, ok = Participants("townhall")
	require.False(t, ok)

	_, _, ok = Participants("a_b_c")
	require.False(t, ok)
}

func TestPersonalChannel(t *testing.T) {
	require.Equal(t, "user:42", PersonalChannel("42"))
	require.NotEqual(t, ConversationID("user", "zed"), PersonalChannel("zed"))

	owner, ok := ChannelOwner(PersonalChannel("42"))
	require.True(t, ok)
	require.Equal(t, "42", owner)

	_, ok = ChannelOwner("u1_u2")
	require.False(t, ok)
}

func TestInferMessageType(t *testing.T) {
	tests := []struct {
		name      string
		requested models.MessageType
		fileName  string
		want      models.MessageType
	}{
		{"explicit type wins", models.MessageTypeAudio, "photo.png", models.MessageTypeAudio},
		{"no attachment", "", "", models.MessageTypeText},
		{"image", "", "photo.PNG", models.MessageTypeImage},
		{"jpeg", "", "a.jpg", models.MessageTypeImage},
		{"audio", "", "voice.mp3", models.MessageTypeAudio},
		{"document", "", "report.pdf", models.MessageTypeFile},
		{"no extension", "", "README", models.MessageTypeFile},
		{"unknown extension", "", "data.zzz", models.MessageTypeFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, InferMessageType(tt.requested, tt.fileName))
		})
	}
}
