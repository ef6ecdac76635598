package interfaces

// Connection represents one live transport per (room, user).
// Implementations must serialize writes; WriteJSON is safe to call from
// any goroutine.
type Connection interface {
	// WriteJSON sends a JSON message to the client.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources. Safe to
	// call more than once.
	Close() error

	// GetRoomID returns the room this connection belongs to.
	GetRoomID() string

	// GetUserID returns the connected user's id.
	GetUserID() string
}
