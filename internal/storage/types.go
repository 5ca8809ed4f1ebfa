package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"sangam/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID          string      `msgpack:"id"`
	UserName    string      `msgpack:"userName"`
	DisplayName string      `msgpack:"displayName"`
	PhotoURL    string      `msgpack:"photoUrl"`
	IsOnline    bool        `msgpack:"isOnline"`
	LastSeen    int64       `msgpack:"lastSeen"`
	Push        *DBPushKeys `msgpack:"push,omitempty"`
}

type DBPushKeys struct {
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	user := models.User{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		Presence: models.Presence{
			Online:   u.IsOnline,
			LastSeen: fromUnixNano(u.LastSeen),
		},
	}
	if u.Push != nil {
		user.PushSubscription = &models.PushSubscription{
			Endpoint: u.Push.Endpoint,
			P256dh:   u.Push.P256dh,
			Auth:     u.Push.Auth,
		}
	}
	return user
}

func fromUserModel(user models.User) *DBUser {
	u := &DBUser{
		ID:          user.ID,
		UserName:    user.UserName,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
		IsOnline:    user.Presence.Online,
		LastSeen:    toUnixNano(user.Presence.LastSeen),
	}
	if s := user.PushSubscription; s != nil {
		u.Push = &DBPushKeys{Endpoint: s.Endpoint, P256dh: s.P256dh, Auth: s.Auth}
	}
	return u
}

type DBConversation struct {
	ID      string `msgpack:"id"`
	UserA   string `msgpack:"userA"`
	UserB   string `msgpack:"userB"`
	LastSeq uint64 `msgpack:"lastSeq"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) toModel() models.Conversation {
	return models.Conversation{ID: c.ID, UserA: c.UserA, UserB: c.UserB, LastSeq: c.LastSeq}
}

type DBMessage struct {
	Seq            uint64 `msgpack:"seq"`
	ID             string `msgpack:"id"`
	SenderID       string `msgpack:"senderId"`
	ReceiverID     string `msgpack:"receiverId"`
	Body           string `msgpack:"body"`
	Type           string `msgpack:"type"`
	ConversationID string `msgpack:"conversationId"`
	FileURL        string `msgpack:"fileUrl"`
	FileName       string `msgpack:"fileName"`
	Timestamp      int64  `msgpack:"timestamp"`
	IsRead         bool   `msgpack:"isRead"`
	ReadAt         int64  `msgpack:"readAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Body:           m.Body,
		Type:           models.MessageType(m.Type),
		ConversationID: m.ConversationID,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		Timestamp:      fromUnixNano(m.Timestamp),
		IsRead:         m.IsRead,
	}
	if m.ReadAt != 0 {
		readAt := fromUnixNano(m.ReadAt)
		msg.ReadAt = &readAt
	}
	return msg
}

func fromMessageModel(msg models.Message) *DBMessage {
	m := &DBMessage{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Body:           msg.Body,
		Type:           string(msg.Type),
		ConversationID: msg.ConversationID,
		FileURL:        msg.FileURL,
		FileName:       msg.FileName,
		Timestamp:      toUnixNano(msg.Timestamp),
		IsRead:         msg.IsRead,
	}
	if msg.ReadAt != nil {
		m.ReadAt = toUnixNano(*msg.ReadAt)
	}
	return m
}

// DBMessageRef locates a message by id inside its conversation bucket.
type DBMessageRef struct {
	ID             string `msgpack:"id"`
	ConversationID string `msgpack:"conversationId"`
	Seq            uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
