package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sangam/internal/chat"
	"sangam/internal/content"
	"sangam/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const (
	maxPageLimit       = 100
	defaultSearchLimit = 20
)

// Store is the message side of storage used by the HTTP handlers.
type Store interface {
	ListOnlineUsers() ([]models.User, error)
	ListMessages(conversationID string, page, limit int) (models.MessagePage, error)
	ChatList(userID string) ([]models.ChatListEntry, error)
	MarkReadMany(messageIDs []string, readAt time.Time) ([]models.Message, error)
	MarkConversationRead(receiverID, senderID string, readAt time.Time) ([]models.Message, error)
	SearchMessages(userID, query string, page, limit int) (models.MessagePage, error)
	DeleteMessage(messageID, userID string) error
}

// Directory resolves and updates user records.
type Directory interface {
	GetUser(userID string) (models.User, error)
	SetPushSubscription(userID string, sub *models.PushSubscription) error
}

type RoomRequest struct {
	UserID1 string `json:"userId1" validate:"required"`
	UserID2 string `json:"userId2" validate:"required"`
}

type RoomResponse struct {
	RoomID string `json:"roomId"`
}

// MarkReadRequest marks either the listed messages or every message senderId
// sent to userId.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
	SenderID   string   `json:"senderId"`
}

type MarkReadResponse struct {
	ModifiedCount int `json:"modifiedCount"`
}

type DeleteMessageRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type PushSubscriptionRequest struct {
	UserID       string                   `json:"userId" validate:"required"`
	Subscription *models.PushSubscription `json:"subscription" validate:"required"`
}

type PushKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type API struct {
	store     Store
	users     Directory
	pageLimit int
	pushKey   string
	validate  *validator.Validate
	now       func() time.Time
}

// New builds the chat HTTP handlers. pushKey is the VAPID public key handed to
// browsers; an empty key disables the push endpoints.
func New(store Store, users Directory, pageLimit int, pushKey string) *API {
	if pageLimit <= 0 || pageLimit > maxPageLimit {
		pageLimit = maxPageLimit
	}
	return &API{
		store:     store,
		users:     users,
		pageLimit: pageLimit,
		pushKey:   pushKey,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// HistoryHandler returns one page of the conversation between senderId and
// receiverId. Pages count from the newest message.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	senderID, receiverID := q.Get("senderId"), q.Get("receiverId")
	if senderID == "" || receiverID == "" {
		writeError(w, http.StatusBadRequest, "senderId and receiverId are required")
		return
	}

	page, limit, err := pageParams(r, a.pageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.store.ListMessages(chat.ConversationID(senderID, receiverID), page, limit)
	if err != nil {
		log.Error().Err(err).Str("sender_id", senderID).Str("receiver_id", receiverID).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat history")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: result})
}

// ChatListHandler returns the conversations of a user with partner profiles.
func (a *API) ChatListHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := content.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.store.ChatList(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to load chat list")
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat list")
		return
	}

	for i := range entries {
		partner, err := a.users.GetUser(entries[i].PartnerID)
		switch {
		case err == nil:
			entries[i].UserInfo = &partner
		case !errors.Is(err, models.ErrNotFound):
			log.Warn().Err(err).Str("partner_id", entries[i].PartnerID).Msg("failed to resolve chat partner")
		}
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: entries})
}

func (a *API) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListOnlineUsers()
	if err != nil {
		log.Error().Err(err).Msg("failed to list online users")
		writeError(w, http.StatusInternalServerError, "Failed to fetch online users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: users})
}

// RoomHandler returns the conversation id of two users.
func (a *API) RoomHandler(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !a.decode(w, r, &req) {
		return
	}
	for _, id := range []string{req.UserID1, req.UserID2} {
		if err := content.ValidateUserID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    RoomResponse{RoomID: chat.ConversationID(req.UserID1, req.UserID2)},
	})
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !a.decode(w, r, &req) {
		return
	}

	var (
		changed []models.Message
		err     error
	)
	switch {
	case len(req.MessageIDs) > 0:
		changed, err = a.store.MarkReadMany(req.MessageIDs, a.now())
	case req.UserID != "" && req.SenderID != "":
		changed, err = a.store.MarkConversationRead(req.UserID, req.SenderID, a.now())
	default:
		writeError(w, http.StatusBadRequest, "messageIds or userId and senderId are required")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to mark messages as read")
		writeError(w, http.StatusInternalServerError, "Failed to mark messages as read")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    MarkReadResponse{ModifiedCount: len(changed)},
	})
}

func (a *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, query := q.Get("userId"), q.Get("query")
	if userID == "" || query == "" {
		writeError(w, http.StatusBadRequest, "userId and query are required")
		return
	}

	page, limit, err := pageParams(r, defaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.store.SearchMessages(userID, query, page, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to search messages")
		writeError(w, http.StatusInternalServerError, "Failed to search messages")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: result})
}

// DeleteMessageHandler deletes a message on behalf of its sender. Messages of
// other senders are reported as missing.
func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("messageId")
	var req DeleteMessageRequest
	if !a.decode(w, r, &req) {
		return
	}

	err := a.store.DeleteMessage(messageID, req.UserID)
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusNotFound, "Message not found or unauthorized")
		return
	case err != nil:
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to delete message")
		writeError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Message deleted successfully"})
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.pushKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are disabled")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: PushKeyResponse{PublicKey: a.pushKey}})
}

// PushSubscriptionHandler stores (POST) or removes (DELETE) the Web Push
// subscription of a user.
func (a *API) PushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if a.pushKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are disabled")
		return
	}

	var (
		userID string
		sub    *models.PushSubscription
	)
	switch r.Method {
	case http.MethodPost:
		var req PushSubscriptionRequest
		if !a.decode(w, r, &req) {
			return
		}
		userID, sub = req.UserID, req.Subscription
	case http.MethodDelete:
		var req DeleteMessageRequest
		if !a.decode(w, r, &req) {
			return
		}
		userID = req.UserID
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := a.users.SetPushSubscription(userID, sub)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Msg("failed to update push subscription")
		writeError(w, http.StatusInternalServerError, "Failed to update push subscription")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pageParams(r *http.Request, defaultLimit int) (page, limit int, err error) {
	page, limit = 1, defaultLimit
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	return page, min(limit, maxPageLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.APIResponse{Success: false, Error: msg})
}
