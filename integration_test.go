package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestIntegration starts the whole program against in-memory storage and
// drives it through the admin HTTP surface, grounded on the teacher's
// main_test.go (temp-dir setup, env-var configuration, background run(),
// waitForServer polling loop) but against chatctl/adminapi's routes rather
// than the teacher's bundled web UI and basic-auth admin surface.
func TestIntegration(t *testing.T) {
	adminAddr := "127.0.0.1:18881"
	listenAddr := "127.0.0.1:18880"

	env := map[string]string{
		"LISTEN_ADDR":  listenAddr,
		"ADMIN_ADDR":   adminAddr,
		"AUTH_SECRET":  "very-secure-test-secret",
		"STORE":        "memory",
		"UPLOADS_PATH": t.TempDir(),
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	waitForServer(t, fmt.Sprintf("http://%s/admin/users", adminAddr), 50)

	// A freshly started instance has no online users and no rooms.
	resp, err := http.Get(fmt.Sprintf("http://%s/admin/users", adminAddr))
	require.NoError(t, err)
	var users []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	_ = resp.Body.Close()
	require.Empty(t, users)

	// Create a room through the admin surface.
	body, err := json.Marshal(map[string]any{"name": "lobby", "historyMax": 50})
	require.NoError(t, err)
	resp, err = http.Post(fmt.Sprintf("http://%s/admin/rooms", adminAddr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(fmt.Sprintf("http://%s/admin/rooms", adminAddr))
	require.NoError(t, err)
	var rooms []struct {
		Name    string `json:"name"`
		Members int    `json:"members"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	_ = resp.Body.Close()
	require.Len(t, rooms, 1)
	require.Equal(t, "lobby", rooms[0].Name)
	require.Zero(t, rooms[0].Members)

	// Force-disconnecting a user nobody has connected as is a no-op, not an
	// error: with the memory store there is no cluster bus, the user has no
	// sockets on this instance, and there's simply nothing to act on.
	body, err = json.Marshal(map[string]string{"username": "nobody"})
	require.NoError(t, err)
	resp, err = http.Post(fmt.Sprintf("http://%s/admin/users/disconnect", adminAddr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server failed to start at %s after %d retries", urlStr, retries)
}
