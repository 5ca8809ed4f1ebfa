package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent = errors.New("unknown event")

	validate = validator.New()
)

// DecodeClientEvent turns an envelope into its typed payload.
//
// A payload that decodes but fails validation is returned together with an
// error wrapping ErrValidation, so callers can still echo request fields
// (such as a client temp id) back to the sender.
func DecodeClientEvent(env ClientEnvelope) (ClientEvent, error) {
	var ev ClientEvent
	var err error

	switch env.Event {
	case ClientEventJoin:
		ev, err = decode[JoinRequest](env.Data)
	case ClientEventGoOnline:
		ev = GoOnlineRequest{}
	case ClientEventGoOffline:
		ev = GoOfflineRequest{}
	case ClientEventGetOnlineUsers:
		ev = GetOnlineUsersRequest{}
	case ClientEventJoinRoom:
		ev, err = decode[JoinRoomRequest](env.Data)
	case ClientEventLeaveRoom:
		ev, err = decode[LeaveRoomRequest](env.Data)
	case ClientEventSendMessage:
		ev, err = decode[SendMessageRequest](env.Data)
	case ClientEventTyping:
		ev, err = decode[TypingRequest](env.Data)
	case ClientEventMessageRead:
		ev, err = decode[MessageReadRequest](env.Data)
	case ClientEventPing:
		ev = PingRequest{}
	case ClientEventDisconnect:
		ev = DisconnectRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}

	return ev, Validate(ev)
}

// Validate checks the required fields of an inbound payload.
func Validate(ev ClientEvent) error {
	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if req, ok := ev.(MessageReadRequest); ok && req.MessageID == "" && len(req.MessageIDs) == 0 {
		return fmt.Errorf("%w: messageId or messageIds is required", ErrValidation)
	}
	return nil
}

func decode[T ClientEvent](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("malformed %s payload: %w", v.EventName(), err)
	}
	return v, nil
}
