package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sangam/internal/content"
	"sangam/internal/models"
	"sangam/internal/presence"

	"github.com/rs/zerolog/log"
)

// UserWriter creates and reads user records.
type UserWriter interface {
	GetUser(userID string) (models.User, error)
	UpsertUser(user models.User) error
}

// ConnectionStats reports the live connections of the process.
type ConnectionStats interface {
	Count() int
	CountDistinctUsers() int
	ListDistinctUsers() []presence.UserSummary
}

type AdminHandler struct {
	users UserWriter
	stats ConnectionStats
	now   func() time.Time
}

func NewAdminHandler(users UserWriter, stats ConnectionStats) *AdminHandler {
	return &AdminHandler{users: users, stats: stats, now: time.Now}
}

type AddUserRequest struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

type AddUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Created bool   `json:"created,omitempty"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Users       int       `json:"onlineUsers"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

// AddUserHandler creates a user record or refreshes the profile of an existing
// one. Presence and push subscription of existing users are kept.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = req.Username
	}
	if err := content.ValidateUserID(req.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	displayName := content.DisplayName(req.DisplayName)
	if displayName == "" {
		displayName = content.DisplayName(req.Username)
	}

	user, err := h.users.GetUser(req.UserID)
	created := errors.Is(err, models.ErrNotFound)
	if err != nil && !created {
		writeJSON(w, http.StatusInternalServerError, AddUserResponse{
			Message: fmt.Sprintf("Failed to load user: %v", err),
		})
		return
	}

	user.ID = req.UserID
	user.UserName = req.Username
	user.DisplayName = displayName
	user.PhotoURL = req.PhotoURL
	if created {
		user.Presence = models.Presence{LastSeen: h.now()}
	}

	if err := h.users.UpsertUser(user); err != nil {
		writeJSON(w, http.StatusBadRequest, AddUserResponse{
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	log.Info().Str("user_id", user.ID).Bool("created", created).Msg("user saved")
	writeJSON(w, http.StatusOK, AddUserResponse{Success: true, UserID: user.ID, Created: created})
}

func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Users:       h.stats.CountDistinctUsers(),
		Connections: h.stats.Count(),
		Timestamp:   h.now(),
	})
}

// ConnectionsHandler lists connected users with their connection counts.
func (h *AdminHandler) ConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: h.stats.ListDistinctUsers()})
}
