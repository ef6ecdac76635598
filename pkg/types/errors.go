package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUserID = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID = errors.New("room ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidState  = errors.New("invalid session state")
)
