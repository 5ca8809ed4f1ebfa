package models

import (
	"encoding/json"
	"time"
)

// ClientEnvelope is the wire format of every frame received from a client.
type ClientEnvelope struct {
	Event ClientEventType `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the wire format of every frame sent to a client.
type ServerEvent struct {
	Event ServerEventType `json:"event"`
	Data  any             `json:"data,omitempty"`
}

type ClientEventType string

const (
	ClientEventJoin           ClientEventType = "join"
	ClientEventGoOnline       ClientEventType = "goOnline"
	ClientEventGoOffline      ClientEventType = "goOffline"
	ClientEventGetOnlineUsers ClientEventType = "getOnlineUsers"
	ClientEventJoinRoom       ClientEventType = "joinRoom"
	ClientEventLeaveRoom      ClientEventType = "leaveRoom"
	ClientEventSendMessage    ClientEventType = "sendMessage"
	ClientEventTyping         ClientEventType = "typing"
	ClientEventMessageRead    ClientEventType = "messageRead"
	ClientEventPing           ClientEventType = "ping"
	ClientEventDisconnect     ClientEventType = "disconnect"
)

type ServerEventType string

const (
	ServerEventJoinSuccess         ServerEventType = "joinSuccess"
	ServerEventOnlineUsersList     ServerEventType = "onlineUsersList"
	ServerEventOnlineUsersCount    ServerEventType = "onlineUsersCount"
	ServerEventUserOnline          ServerEventType = "userOnline"
	ServerEventUserOffline         ServerEventType = "userOffline"
	ServerEventUserStatusChanged   ServerEventType = "userStatusChanged"
	ServerEventRoomJoined          ServerEventType = "roomJoined"
	ServerEventUserJoinedRoom      ServerEventType = "userJoinedRoom"
	ServerEventUserLeftRoom        ServerEventType = "userLeftRoom"
	ServerEventReceiveMessage      ServerEventType = "receiveMessage"
	ServerEventNewMessage          ServerEventType = "newMessage"
	ServerEventMessageSent         ServerEventType = "messageSent"
	ServerEventMessageError        ServerEventType = "messageError"
	ServerEventUserTyping          ServerEventType = "userTyping"
	ServerEventMessageReadReceipt  ServerEventType = "messageReadReceipt"
	ServerEventMessagesReadReceipt ServerEventType = "messagesReadReceipt"
	ServerEventPong                ServerEventType = "pong"
	ServerEventError               ServerEventType = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusSent    = "sent"

	ReasonInactive = "inactive"
)

// ClientEvent is one of the inbound payload types below.
type ClientEvent interface {
	EventName() ClientEventType
	clientEvent()
}

type JoinRequest struct {
	UserID      string `json:"userId" validate:"required,excludes=_"`
	DisplayName string `json:"username" validate:"required"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

type GoOnlineRequest struct{}

type GoOfflineRequest struct{}

type GetOnlineUsersRequest struct{}

type JoinRoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

type SendMessageRequest struct {
	SenderID    string      `json:"senderId" validate:"required,excludes=_"`
	ReceiverID  string      `json:"receiverId" validate:"required,excludes=_"`
	Message     string      `json:"message" validate:"required_without=FileURL"`
	MessageType MessageType `json:"messageType,omitempty" validate:"omitempty,oneof=text image file audio"`
	FileURL     string      `json:"fileUrl,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	TempID      string      `json:"tempId,omitempty"`
}

type TypingRequest struct {
	RoomID     string `json:"roomId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

type MessageReadRequest struct {
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty" validate:"omitempty,dive,required"`
	SenderID   string   `json:"senderId,omitempty"`
}

type PingRequest struct{}

type DisconnectRequest struct{}

func (JoinRequest) EventName() ClientEventType           { return ClientEventJoin }
func (GoOnlineRequest) EventName() ClientEventType       { return ClientEventGoOnline }
func (GoOfflineRequest) EventName() ClientEventType      { return ClientEventGoOffline }
func (GetOnlineUsersRequest) EventName() ClientEventType { return ClientEventGetOnlineUsers }
func (JoinRoomRequest) EventName() ClientEventType       { return ClientEventJoinRoom }
func (LeaveRoomRequest) EventName() ClientEventType      { return ClientEventLeaveRoom }
func (SendMessageRequest) EventName() ClientEventType    { return ClientEventSendMessage }
func (TypingRequest) EventName() ClientEventType         { return ClientEventTyping }
func (MessageReadRequest) EventName() ClientEventType    { return ClientEventMessageRead }
func (PingRequest) EventName() ClientEventType           { return ClientEventPing }
func (DisconnectRequest) EventName() ClientEventType     { return ClientEventDisconnect }

func (JoinRequest) clientEvent()           {}
func (GoOnlineRequest) clientEvent()       {}
func (GoOfflineRequest) clientEvent()      {}
func (GetOnlineUsersRequest) clientEvent() {}
func (JoinRoomRequest) clientEvent()       {}
func (LeaveRoomRequest) clientEvent()      {}
func (SendMessageRequest) clientEvent()    {}
func (TypingRequest) clientEvent()         {}
func (MessageReadRequest) clientEvent()    {}
func (PingRequest) clientEvent()           {}
func (DisconnectRequest) clientEvent()     {}

// OnlineUser is an entry of the online users list.
type OnlineUser struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	PhotoURL string    `json:"photoUrl,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
	Status   string    `json:"status"`
}

type JoinSuccess struct {
	UserID      string       `json:"userId"`
	Username    string       `json:"username"`
	PhotoURL    string       `json:"photoUrl,omitempty"`
	SocketID    string       `json:"socketId"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
	TotalOnline int          `json:"totalOnline"`
}

type OnlineUsers struct {
	Count     int          `json:"count"`
	Users     []OnlineUser `json:"users"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
}

// UserPresenceChange is sent with userOnline and userOffline.
type UserPresenceChange struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	PhotoURL  string     `json:"photoUrl,omitempty"`
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type UserStatusChanged struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomJoined struct {
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomMember is sent with userJoinedRoom and userLeftRoom.
type RoomMember struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type SenderInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// NewMessage is delivered to the receiver's personal channel.
type NewMessage struct {
	Message
	SenderInfo SenderInfo `json:"senderInfo"`
}

type MessageSent struct {
	TempID    string    `json:"tempId,omitempty"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type MessageError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}

type UserTyping struct {
	SenderID  string    `json:"senderId"`
	Username  string    `json:"username"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageReadReceipt struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type MessagesReadReceipt struct {
	MessageIDs []string  `json:"messageIds"`
	ReadBy     string    `json:"readBy"`
	ReadAt     time.Time `json:"readAt"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
