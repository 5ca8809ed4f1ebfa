package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sangam/internal/chat"
	"sangam/internal/content"
	"sangam/internal/metrics"
	"sangam/internal/models"
	"sangam/internal/presence"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	pushTimeout       = 10 * time.Second
	unknownEventLabel = "unknown"
)

// MessageStore is the durable message log used by the dispatcher.
type MessageStore interface {
	InsertMessage(msg models.Message) (models.Message, error)
	GetMessage(messageID string) (models.Message, error)
	MarkRead(messageID string, readAt time.Time) (models.Message, error)
	MarkReadMany(messageIDs []string, readAt time.Time) ([]models.Message, error)
}

type UserLookup interface {
	GetUser(userID string) (models.User, error)
}

// Notifier reaches users that have no live connection.
type Notifier interface {
	NotifyMessage(ctx context.Context, receiver models.User, msg models.Message, sender models.SenderInfo) error
}

// Dispatcher interprets inbound events of a connection and produces the
// outbound events and persistence side effects.
type Dispatcher struct {
	hub      *Hub
	tracker  *presence.Tracker
	registry *presence.Registry
	store    MessageStore
	users    UserLookup
	notifier Notifier
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. notifier may be nil to disable push.
func NewDispatcher(hub *Hub, tracker *presence.Tracker, store MessageStore, users UserLookup, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		tracker:  tracker,
		registry: tracker.Registry(),
		store:    store,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
}

// Dispatch handles one inbound event. Only ErrClientDisconnect is returned;
// every other failure is reported to the connection as an event.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, env models.ClientEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("conn_id", connID).Str("event", string(env.Event)).Interface("panic", r).Msg("event handler panicked")
			d.sendError(connID, "internal error")
			err = nil
		}
	}()

	ev, err := models.DecodeClientEvent(env)
	countEvent(ev)
	if err != nil {
		d.reject(connID, env.Event, ev, err)
		return nil
	}

	switch req := ev.(type) {
	case models.JoinRequest:
		d.join(connID, req)
		return nil
	case models.PingRequest:
		d.ping(connID)
		return nil
	case models.DisconnectRequest:
		return ErrClientDisconnect
	}

	conn, ok := d.registry.Get(connID)
	if !ok {
		d.sendError(connID, "join required")
		return nil
	}
	d.registry.Touch(connID)

	switch req := ev.(type) {
	case models.GoOnlineRequest:
		d.setStatus(conn, true)
	case models.GoOfflineRequest:
		d.setStatus(conn, false)
	case models.GetOnlineUsersRequest:
		d.onlineUsers(conn)
	case models.JoinRoomRequest:
		d.joinRoom(conn, req)
	case models.LeaveRoomRequest:
		d.leaveRoom(conn, req)
	case models.SendMessageRequest:
		d.sendMessage(ctx, conn, req)
	case models.TypingRequest:
		d.typing(conn, req)
	case models.MessageReadRequest:
		d.messageRead(conn, req)
	}
	return nil
}

// countEvent labels by decoded event name; anything undecodable counts as unknown.
func countEvent(ev models.ClientEvent) {
	label := unknownEventLabel
	if ev != nil {
		label = string(ev.EventName())
	}
	metrics.EventsTotal.WithLabelValues(label).Inc()
}

// Disconnect tears down the state of a closed connection.
func (d *Dispatcher) Disconnect(connID string) {
	conn, last, ok := d.tracker.Disconnect(connID)
	if !ok {
		return
	}

	if conn.Room != "" {
		d.hub.EmitToRoom(conn.Room, models.ServerEvent{
			Event: models.ServerEventUserLeftRoom,
			Data:  d.roomMember(conn, conn.Room),
		}, connID)
	}

	log.Info().Str("conn_id", connID).Str("user_id", conn.UserID).Bool("last", last).Msg("connection closed")
}

func (d *Dispatcher) reject(connID string, name models.ClientEventType, ev models.ClientEvent, err error) {
	log.Warn().Err(err).Str("conn_id", connID).Str("event", string(name)).Msg("rejected event")

	if req, ok := ev.(models.SendMessageRequest); ok {
		d.hub.Emit(connID, models.ServerEvent{
			Event: models.ServerEventMessageError,
			Data: models.MessageError{
				Error:   "Missing required fields",
				Details: err.Error(),
				TempID:  req.TempID,
			},
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrValidation) && name == models.ClientEventJoin:
		d.sendError(connID, "UserId and username are required")
	case errors.Is(err, models.ErrValidation) && name == models.ClientEventJoinRoom:
		d.sendError(connID, "Room ID is required")
	case errors.Is(err, models.ErrUnknownEvent):
		d.sendError(connID, fmt.Sprintf("unknown event %q", name))
	case errors.Is(err, models.ErrValidation):
		d.sendError(connID, err.Error())
	default:
		d.sendError(connID, fmt.Sprintf("malformed %s payload", name))
	}
}

func (d *Dispatcher) join(connID string, req models.JoinRequest) {
	name := content.DisplayName(req.DisplayName)
	if err := content.ValidateUserID(req.UserID); err != nil || name == "" {
		d.sendError(connID, "UserId and username are required")
		return
	}

	if prev, ok := d.registry.Get(connID); ok && prev.UserID != req.UserID {
		d.hub.LeaveRoom(connID, chat.PersonalChannel(prev.UserID))
	}
	d.hub.JoinRoom(connID, chat.PersonalChannel(req.UserID))

	d.tracker.Connect(presence.LiveConnection{
		ID:          connID,
		UserID:      req.UserID,
		DisplayName: name,
		PhotoURL:    req.PhotoURL,
	})

	users := d.tracker.OnlineUsers()
	d.hub.Emit(connID, models.ServerEvent{
		Event: models.ServerEventJoinSuccess,
		Data: models.JoinSuccess{
			UserID:      req.UserID,
			Username:    name,
			PhotoURL:    req.PhotoURL,
			SocketID:    connID,
			OnlineUsers: users,
			TotalOnline: len(users),
		},
	})
	d.tracker.BroadcastCount()

	log.Info().Str("conn_id", connID).Str("user_id", req.UserID).Msg("user joined")
}

func (d *Dispatcher) setStatus(conn presence.LiveConnection, online bool) {
	at := d.tracker.SetStatus(conn, online)
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}
	d.hub.Emit(conn.ID, models.ServerEvent{
		Event: models.ServerEventUserStatusChanged,
		Data: models.UserStatusChanged{
			UserID:    conn.UserID,
			Status:    status,
			Timestamp: at,
		},
	})
}

func (d *Dispatcher) onlineUsers(conn presence.LiveConnection) {
	users := d.tracker.OnlineUsers()
	now := d.now()
	d.hub.Emit(conn.ID, models.ServerEvent{
		Event: models.ServerEventOnlineUsersList,
		Data: models.OnlineUsers{
			Count:     len(users),
			Users:     users,
			Timestamp: &now,
		},
	})
}

func (d *Dispatcher) joinRoom(conn presence.LiveConnection, req models.JoinRoomRequest) {
	if !canJoin(conn.UserID, req.RoomID) {
		d.sendError(conn.ID, "Not allowed to join this room")
		return
	}

	d.hub.JoinRoom(conn.ID, req.RoomID)
	d.registry.SetRoom(conn.ID, req.RoomID)

	d.hub.EmitToRoom(req.RoomID, models.ServerEvent{
		Event: models.ServerEventUserJoinedRoom,
		Data:  d.roomMember(conn, req.RoomID),
	}, conn.ID)
	d.hub.Emit(conn.ID, models.ServerEvent{
		Event: models.ServerEventRoomJoined,
		Data:  models.RoomJoined{RoomID: req.RoomID, Timestamp: d.now()},
	})
}

// canJoin keeps users out of conversations and personal channels of others.
func canJoin(userID, room string) bool {
	if owner, ok := chat.ChannelOwner(room); ok {
		return owner == userID
	}
	if a, b, ok := chat.Participants(room); ok {
		return a == userID || b == userID
	}
	return true
}

func (d *Dispatcher) leaveRoom(conn presence.LiveConnection, req models.LeaveRoomRequest) {
	room := req.RoomID
	if room == "" {
		room = conn.Room
	}
	if room == "" || room == chat.PersonalChannel(conn.UserID) {
		return
	}

	if d.hub.LeaveRoom(conn.ID, room) {
		d.hub.EmitToRoom(room, models.ServerEvent{
			Event: models.ServerEventUserLeftRoom,
			Data:  d.roomMember(conn, room),
		}, conn.ID)
	}
	if conn.Room == room {
		d.registry.SetRoom(conn.ID, "")
	}
}

func (d *Dispatcher) roomMember(conn presence.LiveConnection, room string) models.RoomMember {
	return models.RoomMember{
		UserID:    conn.UserID,
		Username:  conn.DisplayName,
		PhotoURL:  conn.PhotoURL,
		RoomID:    room,
		Timestamp: d.now(),
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, conn presence.LiveConnection, req models.SendMessageRequest) {
	if req.SenderID != conn.UserID {
		d.messageError(conn.ID, req.TempID, "senderId does not match the joined user", "")
		return
	}

	if err := content.ValidateUserID(req.ReceiverID); err != nil {
		d.messageError(conn.ID, req.TempID, "Invalid receiverId", err.Error())
		return
	}

	body := content.MessageBody(req.Message)
	if body == "" && req.FileURL == "" {
		d.messageError(conn.ID, req.TempID, "Missing required fields", "message is empty")
		return
	}

	roomID := chat.ConversationID(req.SenderID, req.ReceiverID)
	msg, err := d.store.InsertMessage(models.Message{
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Body:           body,
		Type:           chat.InferMessageType(req.MessageType, req.FileName),
		ConversationID: roomID,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		Timestamp:      d.now(),
	})
	if err != nil {
		log.Error().Err(err).Str("conn_id", conn.ID).Str("room_id", roomID).Msg("failed to persist message")
		d.messageError(conn.ID, req.TempID, "Failed to send message", err.Error())
		return
	}
	metrics.MessagesPersisted.Inc()

	d.hub.EmitToRoom(roomID, models.ServerEvent{
		Event: models.ServerEventReceiveMessage,
		Data:  msg,
	}, "")

	sender := models.SenderInfo{
		UserID:   conn.UserID,
		Username: conn.DisplayName,
		PhotoURL: conn.PhotoURL,
	}
	d.hub.EmitToUser(req.ReceiverID, models.ServerEvent{
		Event: models.ServerEventNewMessage,
		Data:  models.NewMessage{Message: msg, SenderInfo: sender},
	})

	d.hub.Emit(conn.ID, models.ServerEvent{
		Event: models.ServerEventMessageSent,
		Data: models.MessageSent{
			TempID:    req.TempID,
			MessageID: msg.ID,
			Timestamp: msg.Timestamp,
			Status:    models.StatusSent,
		},
	})

	if d.notifier != nil && !d.registry.IsOnline(req.ReceiverID) {
		go d.notifyOffline(context.WithoutCancel(ctx), msg, sender)
	}
}

func (d *Dispatcher) notifyOffline(ctx context.Context, msg models.Message, sender models.SenderInfo) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	receiver, err := d.users.GetUser(msg.ReceiverID)
	if err != nil {
		log.Debug().Err(err).Str("user_id", msg.ReceiverID).Msg("push skipped, receiver unknown")
		return
	}
	if receiver.PushSubscription == nil {
		return
	}
	if err := d.notifier.NotifyMessage(ctx, receiver, msg, sender); err != nil {
		log.Warn().Err(err).Str("user_id", msg.ReceiverID).Str("message_id", msg.ID).Msg("push notification failed")
	}
}

func (d *Dispatcher) messageError(connID, tempID, reason, details string) {
	d.hub.Emit(connID, models.ServerEvent{
		Event: models.ServerEventMessageError,
		Data: models.MessageError{
			Error:   reason,
			Details: details,
			TempID:  tempID,
		},
	})
}

func (d *Dispatcher) typing(conn presence.LiveConnection, req models.TypingRequest) {
	ev := models.ServerEvent{
		Event: models.ServerEventUserTyping,
		Data: models.UserTyping{
			SenderID:  conn.UserID,
			Username:  conn.DisplayName,
			PhotoURL:  conn.PhotoURL,
			IsTyping:  req.IsTyping,
			Timestamp: d.now(),
		},
	}
	if req.RoomID != "" && canJoin(conn.UserID, req.RoomID) {
		d.hub.EmitToRoom(req.RoomID, ev, conn.ID)
	}
	if req.ReceiverID != "" {
		d.hub.EmitToUser(req.ReceiverID, ev)
	}
}

func (d *Dispatcher) messageRead(conn presence.LiveConnection, req models.MessageReadRequest) {
	now := d.now()

	if len(req.MessageIDs) > 0 {
		d.markManyRead(conn, req.MessageIDs, now)
		return
	}

	msg, err := d.store.GetMessage(req.MessageID)
	if err != nil {
		d.readError(conn, err)
		return
	}
	if msg.ReceiverID != conn.UserID {
		d.sendError(conn.ID, "Only the receiver can mark a message as read")
		return
	}

	msg, err = d.store.MarkRead(msg.ID, now)
	if err != nil {
		d.readError(conn, err)
		return
	}
	readAt := now
	if msg.ReadAt != nil {
		readAt = *msg.ReadAt
	}

	d.hub.EmitToUser(msg.SenderID, models.ServerEvent{
		Event: models.ServerEventMessageReadReceipt,
		Data: models.MessageReadReceipt{
			MessageID: msg.ID,
			ReadBy:    conn.UserID,
			ReadAt:    readAt,
		},
	})
}

func (d *Dispatcher) markManyRead(conn presence.LiveConnection, ids []string, now time.Time) {
	owned := make([]string, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		msg, err := d.store.GetMessage(id)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				d.readError(conn, err)
				return
			}
			continue
		}
		if msg.ReceiverID == conn.UserID {
			owned = append(owned, id)
		}
	}

	changed, err := d.store.MarkReadMany(owned, now)
	if err != nil {
		d.readError(conn, err)
		return
	}

	bySender := lo.GroupBy(changed, func(m models.Message) string { return m.SenderID })
	for senderID, msgs := range bySender {
		d.hub.EmitToUser(senderID, models.ServerEvent{
			Event: models.ServerEventMessagesReadReceipt,
			Data: models.MessagesReadReceipt{
				MessageIDs: lo.Map(msgs, func(m models.Message, _ int) string { return m.ID }),
				ReadBy:     conn.UserID,
				ReadAt:     now,
			},
		})
	}
}

func (d *Dispatcher) readError(conn presence.LiveConnection, err error) {
	if errors.Is(err, models.ErrNotFound) {
		d.sendError(conn.ID, "Message not found")
		return
	}
	log.Error().Err(err).Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg("failed to mark messages read")
	d.sendError(conn.ID, "Failed to mark messages as read")
}

func (d *Dispatcher) ping(connID string) {
	d.registry.Touch(connID)
	d.hub.Emit(connID, models.ServerEvent{
		Event: models.ServerEventPong,
		Data:  models.Pong{Timestamp: d.now()},
	})
}

func (d *Dispatcher) sendError(connID, message string) {
	d.hub.Emit(connID, models.ServerEvent{
		Event: models.ServerEventError,
		Data:  models.ErrorMessage{Message: message},
	})
}
