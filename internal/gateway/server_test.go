package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/pkg/models"
)

func testServer(t *testing.T) (*Server, *fabric.Registry, *fabric.SocketConfirmer, *httptest.Server) {
	t.Helper()
	registry := fabric.NewRegistry(nil, nil)
	confirmer := fabric.NewSocketConfirmer(registry, nil, nil)
	server := NewServer(config.ServerConfig{}, registry, confirmer, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, registry, confirmer, ts
}

func dial(t *testing.T, ts *httptest.Server, userID, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=" + userID + "&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthz(t *testing.T) {
	_, _, _, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, _, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWSRequiresIdentity(t *testing.T) {
	_, _, _, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/ws?user_id=u")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWSRegistersIntoFabric(t *testing.T) {
	_, registry, _, ts := testServer(t)

	conn := dial(t, ts, "user-1", "sess-1")
	waitRegistered(t, registry, "user-1", "sess-1")

	// Events sent through the session sink reach the client.
	sink := registry.SessionSink("user-1", "sess-1")
	if err := sink.Send(context.Background(), models.Toast("sess-1", "user-1", "deployed")); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var event models.ToolEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != models.EventToast || event.Data.Message != "deployed" {
		t.Errorf("event = %+v", event)
	}
}

func waitRegistered(t *testing.T, registry *fabric.Registry, userID, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := registry.Get(userID, sessionID); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSConfirmationRoundTrip(t *testing.T) {
	_, registry, confirmer, ts := testServer(t)
	confirmer.SetTimeout(5 * time.Second)

	conn := dial(t, ts, "user-1", "sess-1")
	waitRegistered(t, registry, "user-1", "sess-1")

	type result struct {
		approved bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		approved, err := confirmer.Confirm(context.Background(), &fabric.ConfirmationRequest{
			SessionID: "sess-1",
			UserID:    "user-1",
			ToolName:  "cloud_exec",
			Summary:   "aws ec2 terminate-instances --instance-ids i-abc",
		})
		done <- result{approved, err}
	}()

	// The client sees the awaiting_confirmation prompt and answers it.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event models.ToolEvent
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		if event.Data.Status == models.StatusAwaitingConfirmation {
			break
		}
	}
	answer, _ := json.Marshal(map[string]any{
		"type":            "confirmation_response",
		"confirmation_id": event.Data.ToolCallID,
		"approved":        true,
	})
	if err := conn.WriteMessage(websocket.TextMessage, answer); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if res.err != nil || !res.approved {
			t.Errorf("approved = %v err = %v", res.approved, res.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("confirmation never resolved")
	}
}
