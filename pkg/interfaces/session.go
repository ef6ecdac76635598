package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// SessionController is the socket-facing surface of the session engine.
// The WebSocket handler depends on this interface rather than the session
// manager implementation.
type SessionController interface {
	// JoinRoom records userID as present in the room's current session
	// (idempotent set-add) and delivers the STATE_RESTORE frame for that
	// single connection through send, or an INFO frame if the room has
	// no active session. The frame is sent before the room's state lock
	// is released, so the restore cannot be outrun by a transition
	// committed immediately after the join.
	JoinRoom(ctx context.Context, roomID, userID string, send func(types.Frame) error) error
}

// ContentGenerator is the external AI content-generation collaborator.
// Implementations must honor ctx cancellation; the pipeline bounds every
// call with a timeout.
type ContentGenerator interface {
	Generate(ctx context.Context, topic string) (*types.LiveContent, error)
}

// Notifier informs eligible students out-of-band that a session started.
type Notifier interface {
	SessionStarted(ctx context.Context, batch *types.Batch, session *types.LiveSession) error
}
