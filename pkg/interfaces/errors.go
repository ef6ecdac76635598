package interfaces

import "errors"

// Common interface errors used across components.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrTimeSlotNotFound = errors.New("timeslot not found")
	ErrContentNotFound  = errors.New("content not found")
	ErrUnauthorized     = errors.New("unauthorized access")
)
