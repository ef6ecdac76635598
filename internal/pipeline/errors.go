package pipeline

import "errors"

var (
	ErrAlreadyRunning = errors.New("pipeline is already running")
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrQueueFull      = errors.New("pipeline queue is full")
	ErrEmptyTopic     = errors.New("topic must not be empty")
)
