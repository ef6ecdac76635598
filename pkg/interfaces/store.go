package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// Store handles all persistence for the live-classroom engine. Keeping the
// engine behind this narrow interface makes it testable without a real
// document store.
type Store interface {
	// Session operations.

	// CreateSession persists a new live session.
	CreateSession(ctx context.Context, session *types.LiveSession) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, sessionID string) (*types.LiveSession, error)

	// GetActiveSession returns the room's session whose state is not
	// ENDED, or ErrSessionNotFound if none exists.
	GetActiveSession(ctx context.Context, roomID string) (*types.LiveSession, error)

	// UpdateSession persists state, payload, roster and termination
	// fields of an existing session.
	UpdateSession(ctx context.Context, session *types.LiveSession) error

	// ListActiveSessions returns active-session rows for a teacher,
	// joined with batch names.
	ListActiveSessions(ctx context.Context, teacherID string) ([]*types.ActiveSessionInfo, error)

	// MaxEpoch returns the highest session epoch ever used in a room,
	// zero if the room has no sessions.
	MaxEpoch(ctx context.Context, roomID string) (uint64, error)

	// Batch and schedule operations.

	CreateBatch(ctx context.Context, batch *types.Batch) error
	GetBatch(ctx context.Context, batchID string) (*types.Batch, error)

	CreateTimeSlot(ctx context.Context, slot *types.TimeSlot) error
	GetTimeSlot(ctx context.Context, timeslotID string) (*types.TimeSlot, error)
	ListTimeSlots(ctx context.Context, batchID string) ([]*types.TimeSlot, error)

	// UpdateTopic sets a new topic and resets AIPrepStatus to PENDING in
	// one write.
	UpdateTopic(ctx context.Context, timeslotID, topic string) error

	// SetPrepStatus updates pipeline status for a time slot; lastError is
	// recorded for FAILED and cleared otherwise.
	SetPrepStatus(ctx context.Context, timeslotID string, status types.PrepStatus, lastError string) error

	// Content operations.

	// UpsertContent writes generated content for a time slot as a full
	// overwrite, never a merge.
	UpsertContent(ctx context.Context, content *types.LiveContent) error

	// GetContent returns the prepared content for a time slot, or
	// ErrContentNotFound.
	GetContent(ctx context.Context, timeslotID string) (*types.LiveContent, error)

	// Attendance and notifications.

	SaveAttendance(ctx context.Context, records []*types.AttendanceRecord) error
	ListAttendance(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error)
	CreateNotification(ctx context.Context, n *types.Notification) error

	// Health and lifecycle.

	HealthCheck(ctx context.Context) error
	Close() error
}
