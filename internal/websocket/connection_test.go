package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Test WebSocket upgrader for creating test connections.
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_Initialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn, "room-1", "user-1")
	defer conn.Close()

	if cap(conn.writeCh) != writeBufferSize {
		t.Errorf("Expected write channel buffer of %d, got %d", writeBufferSize, cap(conn.writeCh))
	}
	if conn.GetRoomID() != "room-1" {
		t.Errorf("Expected room-1, got %s", conn.GetRoomID())
	}
	if conn.GetUserID() != "user-1" {
		t.Errorf("Expected user-1, got %s", conn.GetUserID())
	}
}

func TestConnection_WriteJSONDelivery(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn, "room-1", "user-1")
	defer conn.Close()

	frame := types.InfoFrame("hello")
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case data := <-received:
		var got types.Frame
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Failed to unmarshal delivered frame: %v", err)
		}
		if got.Type != types.FrameInfo || got.Message != "hello" {
			t.Errorf("Unexpected frame delivered: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame was not delivered")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn, "room-1", "user-1")
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := conn.WriteJSON(types.InfoFrame("x")); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
	if err := conn.TryWriteJSON(types.InfoFrame("x")); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "room-1", "user-1")
	if err := conn.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Error("Done channel should be closed after Close")
	}
}

func TestConnection_TryWriteJSONFullBuffer(t *testing.T) {
	// Build the connection without its writer goroutine so the buffer
	// stays full for the duration of the test.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{
		writeCh: make(chan []byte, 1),
		roomID:  "room-1",
		userID:  "user-1",
		ctx:     ctx,
		cancel:  cancel,
	}
	conn.writeCh <- []byte("{}")

	if err := conn.TryWriteJSON(types.InfoFrame("overflow")); err != ErrWriteTimeout {
		t.Errorf("Expected ErrWriteTimeout on full buffer, got %v", err)
	}
}

// createTestWebSocketConnection dials a loopback server and returns the
// client side plus a channel of messages the server receives.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, chan []byte) {
	t.Helper()

	received := make(chan []byte, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- data:
			default:
			}
		}
	}))

	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}

	return conn, received
}
