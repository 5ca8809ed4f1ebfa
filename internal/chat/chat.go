package chat

import (
	"path/filepath"
	"sort"
	"strings"

	"sangam/internal/models"

	"github.com/h2non/filetype"
)

// Separator joins the two sorted user ids of a conversation id.
// User ids must not contain it.
const Separator = "_"

// personalPrefix uses a character that user ids cannot contain, so a
// personal channel never collides with a conversation id.
const personalPrefix = "user:"

// ConversationID returns the id of the conversation between two users.
// The result does not depend on the argument order.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, Separator)
}

// Participants splits a conversation id back into its two user ids.
func Participants(conversationID string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationID, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// PersonalChannel is the name of the channel reaching all connections of a user.
func PersonalChannel(userID string) string {
	return personalPrefix + userID
}

// ChannelOwner returns the user a personal channel belongs to.
func ChannelOwner(room string) (string, bool) {
	userID, ok := strings.CutPrefix(room, personalPrefix)
	return userID, ok && userID != ""
}

// InferMessageType picks a message type for a message with an attachment
// when the client did not set one.
func InferMessageType(requested models.MessageType, fileName string) models.MessageType {
	if requested != "" {
		return requested
	}
	if fileName == "" {
		return models.MessageTypeText
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return models.MessageTypeFile
	}

	switch filetype.GetType(ext).MIME.Type {
	case "image":
		return models.MessageTypeImage
	case "audio":
		return models.MessageTypeAudio
	default:
		return models.MessageTypeFile
	}
}
