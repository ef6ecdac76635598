package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"

	"liveclass/internal/auth"
	"liveclass/pkg/types"
)

var handlerTestSecret = []byte("ws-test-secret")

// stubController returns a fixed frame from JoinRoom and records joins.
type stubController struct {
	frame types.Frame
	joins chan string
}

func (c *stubController) JoinRoom(_ context.Context, roomID, userID string, send func(types.Frame) error) error {
	if c.joins != nil {
		c.joins <- roomID + "/" + userID
	}
	return send(c.frame)
}

func signWSToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    auth.RoleStudent,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(handlerTestSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func newHandlerServer(t *testing.T, controller *stubController) (*httptest.Server, *Registry) {
	t.Helper()

	registry := NewRegistry()
	handler := NewHandler(registry, controller, auth.NewValidator(handlerTestSecret), DefaultHandlerConfig())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return server, registry
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
}

func readFrame(t *testing.T, conn *gorilla.Conn) types.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Invalid frame: %v", err)
	}
	return frame
}

func TestHandleWebSocket_RestoreFrameOnConnect(t *testing.T) {
	restore := types.StateRestoreFrame(types.StateQuiz, map[string]interface{}{"quiz_id": "q-1"})
	controller := &stubController{frame: restore, joins: make(chan string, 1)}
	server, registry := newHandlerServer(t, controller)

	token := signWSToken(t, "alice")
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL(server, "room_id=room-1&user_id=alice&token="+token), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	frame := readFrame(t, conn)
	if frame.Type != types.FrameStateRestore {
		t.Fatalf("Expected STATE_RESTORE first, got %s", frame.Type)
	}
	if frame.Payload["current_state"] != string(types.StateQuiz) {
		t.Errorf("Restore payload mismatch: %v", frame.Payload)
	}

	select {
	case join := <-controller.joins:
		if join != "room-1/alice" {
			t.Errorf("JoinRoom called with wrong identity: %s", join)
		}
	case <-time.After(time.Second):
		t.Error("JoinRoom was not called")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.GetConnection("room-1", "alice"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Connection never appeared in the registry")
}

func TestHandleWebSocket_MissingParams(t *testing.T) {
	controller := &stubController{frame: types.InfoFrame("x")}
	server, _ := newHandlerServer(t, controller)

	resp, err := http.Get(server.URL + "?room_id=room-1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without user_id, got %d", resp.StatusCode)
	}
}

func TestHandleWebSocket_InvalidIDFormat(t *testing.T) {
	controller := &stubController{frame: types.InfoFrame("x")}
	server, _ := newHandlerServer(t, controller)

	resp, err := http.Get(server.URL + "?room_id=room-1&user_id=bad%20user")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed user_id, got %d", resp.StatusCode)
	}
}

func TestHandleWebSocket_TokenSubjectMismatch(t *testing.T) {
	controller := &stubController{frame: types.InfoFrame("x")}
	server, registry := newHandlerServer(t, controller)

	// Token is for alice, the connection claims bob.
	token := signWSToken(t, "alice")
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL(server, "room_id=room-1&user_id=bob&token="+token), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// The server upgrades, then closes with a policy violation.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*gorilla.CloseError)
	if !ok {
		t.Fatalf("Expected a close error, got %v", err)
	}
	if closeErr.Code != gorilla.ClosePolicyViolation {
		t.Errorf("Expected close code %d, got %d", gorilla.ClosePolicyViolation, closeErr.Code)
	}

	if _, ok := registry.GetConnection("room-1", "bob"); ok {
		t.Error("Rejected connection must never be registered")
	}
}

func TestHandleWebSocket_PingFrame(t *testing.T) {
	controller := &stubController{frame: types.InfoFrame("no active session")}
	server, _ := newHandlerServer(t, controller)

	token := signWSToken(t, "alice")
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL(server, "room_id=room-1&user_id=alice&token="+token), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	readFrame(t, conn) // restore frame

	if err := conn.WriteJSON(types.Frame{Type: "ping"}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != types.FrameInfo || frame.Message != "pong" {
		t.Errorf("Expected pong, got %+v", frame)
	}
}

func TestHandleWebSocket_ReplacementDisplacesOldConnection(t *testing.T) {
	controller := &stubController{frame: types.InfoFrame("no active session")}
	server, registry := newHandlerServer(t, controller)
	token := signWSToken(t, "alice")
	url := wsURL(server, "room_id=room-1&user_id=alice&token="+token)

	conn1, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("First dial failed: %v", err)
	}
	defer conn1.Close()
	readFrame(t, conn1)

	conn2, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Second dial failed: %v", err)
	}
	defer conn2.Close()
	readFrame(t, conn2)

	// The old transport closes; the new one stays registered.
	_ = conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn1.ReadMessage(); err == nil {
		t.Error("Replaced connection should be closed by the server")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stats := registry.GetStats(); stats["total_connections"] == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Expected exactly one registered connection, stats=%v", registry.GetStats())
}
