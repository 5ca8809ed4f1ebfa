package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// User is the subset of a user record the chat core reads and writes.
// Records are created outside of the chat core (admin API or the auth service).
type User struct {
	ID               string            `json:"userId"`
	UserName         string            `json:"username"`
	DisplayName      string            `json:"name"`
	PhotoURL         string            `json:"photoUrl,omitempty"`
	Presence         Presence          `json:"presence"`
	PushSubscription *PushSubscription `json:"-"`
}

// Presence represents the durable online status of a user.
type Presence struct {
	Online   bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// PushSubscription is a browser Web Push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	P256dh   string `json:"p256dh" validate:"required"`
	Auth     string `json:"auth" validate:"required"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
)

// Message represents a persisted chat message.
type Message struct {
	ID             string      `json:"_id"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Body           string      `json:"message"`
	Type           MessageType `json:"messageType"`
	ConversationID string      `json:"roomId"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	IsRead         bool        `json:"isRead"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
}

// Conversation is the stored summary of a conversation between two users.
type Conversation struct {
	ID      string `json:"roomId"`
	UserA   string `json:"userA"`
	UserB   string `json:"userB"`
	LastSeq uint64 `json:"lastSeq"`
}

// Partner returns the other participant of the conversation.
func (c Conversation) Partner(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

func (c Conversation) Has(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// ChatListEntry is one row of a user's chat list.
type ChatListEntry struct {
	PartnerID   string  `json:"_id"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int     `json:"unreadCount"`
	UserInfo    *User   `json:"userInfo,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes the page count for total items split by limit.
func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}

// MessagePage is a page of messages with pagination details.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}
