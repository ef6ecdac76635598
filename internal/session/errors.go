package session

import "errors"

// Session lifecycle error types.
var (
	ErrNoActiveSession    = errors.New("no active session for room")
	ErrSessionEnded       = errors.New("session has ended")
	ErrInvalidTargetState = errors.New("invalid target state for transition")
	ErrMissingPayload     = errors.New("content payload required for this state")
	ErrPayloadNotAllowed  = errors.New("content payload not allowed in WAITING state")
	ErrNotRoomOwner       = errors.New("caller does not own this batch")
)
