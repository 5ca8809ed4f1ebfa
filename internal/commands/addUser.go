package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"sangam/internal/api"
	"sangam/internal/config"
)

// AddUser registers a user through the admin API of a running server.
func AddUser(username, displayName string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddUserRequest{Username: username, DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	action := "updated"
	if result.Created {
		action = "created"
	}
	fmt.Printf("User %s %s.\n", result.UserID, action)
	return nil
}
