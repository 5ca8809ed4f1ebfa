package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sangam/internal/api"
	"sangam/internal/config"

	"github.com/stretchr/testify/require"
)

func TestAddUser(t *testing.T) {
	var got api.AddUserRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/users", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(api.AddUserResponse{Success: true, UserID: got.Username, Created: true})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	require.NoError(t, AddUser("alice", "Alice", cfg))
	require.Equal(t, api.AddUserRequest{Username: "alice", DisplayName: "Alice"}, got)
}

func TestAddUser_Server_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Username is required", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	err := AddUser("", "", cfg)
	require.ErrorContains(t, err, "Status: 400")
}
