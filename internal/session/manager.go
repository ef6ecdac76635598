package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/jaevor/go-nanoid"

	"liveclass/internal/attendance"
	"liveclass/internal/router"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Session codes avoid ambiguous characters so they survive being read
// aloud in a classroom.
const (
	sessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	sessionCodeLength   = 6
)

// Manager owns the per-room session state machine. All state mutation for
// a room (Start, Transition, End, JoinRoom) is serialized through that
// room's mutex, so concurrent teacher actions cannot create two live
// sessions and broadcasts are committed in a single order. The store is
// authoritative; the manager holds no session cache.
type Manager struct {
	store      interfaces.Store
	router     *router.Router
	attendance *attendance.Tracker
	notifier   interfaces.Notifier
	newCode    func() string

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(store interfaces.Store, rt *router.Router, tracker *attendance.Tracker, notifier interfaces.Notifier) (*Manager, error) {
	newCode, err := gonanoid.CustomASCII(sessionCodeAlphabet, sessionCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to build session code generator: %w", err)
	}

	return &Manager{
		store:      store,
		router:     rt,
		attendance: tracker,
		notifier:   notifier,
		newCode:    newCode,
		roomLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// roomLock returns the mutex serializing mutation for a room.
func (m *Manager) roomLock(roomID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		m.roomLocks[roomID] = lock
	}
	return lock
}

// Start creates a live session for a room in WAITING, or returns the
// room's existing non-ENDED session unchanged. Rapid duplicate starts are
// a conflict resolved silently, not an error. Eligible students are
// notified out-of-band.
func (m *Manager) Start(ctx context.Context, roomID, timeslotID, teacherID string) (*types.LiveSession, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrInvalidRoomID
	}

	batch, err := m.store.GetBatch(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if teacherID != "" && batch.TeacherID != teacherID {
		return nil, ErrNotRoomOwner
	}

	lock := m.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := m.store.GetActiveSession(ctx, roomID); err == nil {
		return existing, nil
	} else if err != interfaces.ErrSessionNotFound {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	lastEpoch, err := m.store.MaxEpoch(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to read room epoch: %w", err)
	}

	session := &types.LiveSession{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		TimeSlotID:  timeslotID,
		State:       types.StateWaiting,
		Roster:      []string{},
		SessionCode: m.newCode(),
		Epoch:       lastEpoch + 1,
		StartedAt:   time.Now().UTC(),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Printf("Session started: id=%s room=%s code=%s epoch=%d", session.ID, roomID, session.SessionCode, session.Epoch)

	if m.notifier != nil {
		// Notification is out-of-band; its failure never fails the start.
		go func(batch *types.Batch, session *types.LiveSession) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.notifier.SessionStarted(notifyCtx, batch, session); err != nil {
				log.Printf("Session start notification failed: room=%s err=%v", roomID, err)
			}
		}(batch, session)
	}

	return session, nil
}

// Transition moves a session to a new state and fans the change out to
// the room. Rejected once the session is ENDED. WAITING clears the active
// content; QUIZ, POLL and MATERIAL require a payload.
func (m *Manager) Transition(ctx context.Context, sessionID string, state types.SessionState, payload map[string]interface{}) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if !types.IsValidTransitionTarget(state) {
		return ErrInvalidTargetState
	}
	if types.IsContentState(state) && payload == nil {
		return ErrMissingPayload
	}
	if state == types.StateWaiting && payload != nil {
		return ErrPayloadNotAllowed
	}

	lock := m.roomLock(session.RoomID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; the first read only located the room.
	session, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State == types.StateEnded {
		return ErrSessionEnded
	}

	session.State = state
	if state == types.StateWaiting {
		session.ActiveContent = nil
	} else {
		session.ActiveContent = payload
	}

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	// Enqueue while still holding the room lock so clients observe
	// broadcasts in commit order; the router performs the socket I/O
	// outside this lock.
	m.router.Broadcast(session.RoomID, session.Epoch, types.TransitionFrame(state, payload))

	log.Printf("Session transition: id=%s room=%s state=%s", session.ID, session.RoomID, state)
	return nil
}

// EndResult summarizes a terminated session for the control plane.
type EndResult struct {
	SessionID       string
	Duration        time.Duration
	AttendanceCount int
}

// End terminates the room's active session. The terminal SESSION_ENDED
// broadcast is delivered and the session's epoch fenced, so any broadcast
// still in flight from before the end is dropped rather than delivered.
// Connections are not force-closed; clients disconnect in response.
func (m *Manager) End(ctx context.Context, roomID string) (*EndResult, error) {
	lock := m.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.store.GetActiveSession(ctx, roomID)
	if err != nil {
		if err == interfaces.ErrSessionNotFound {
			return nil, ErrNoActiveSession
		}
		return nil, err
	}

	now := time.Now().UTC()
	session.State = types.StateEnded
	session.ActiveContent = nil
	session.EndedAt = &now
	session.AttendanceCount = len(session.Roster)

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session end: %w", err)
	}

	m.router.BroadcastTerminal(session.RoomID, session.Epoch, types.SessionEndedFrame())

	records := m.attendance.Finalize(session, now)
	if len(records) > 0 {
		if err := m.store.SaveAttendance(ctx, records); err != nil {
			// Attendance is derived reporting; its failure must not undo
			// an already-committed session end.
			log.Printf("Failed to save attendance: session=%s err=%v", session.ID, err)
		}
	}

	log.Printf("Session ended: id=%s room=%s attendance=%d", session.ID, roomID, session.AttendanceCount)

	return &EndResult{
		SessionID:       session.ID,
		Duration:        now.Sub(session.StartedAt),
		AttendanceCount: session.AttendanceCount,
	}, nil
}

// JoinRoom implements the reconnection protocol for one authenticated
// connection: add the user to the roster (idempotent set-add) and deliver
// the STATE_RESTORE frame mirroring the last committed state. Without an
// active session the connection gets an INFO frame instead. The frame is
// sent while the room lock is still held: a transition committed right
// after the join enqueues its broadcast strictly after the restore write,
// so the client cannot end up resynchronized to a stale state.
func (m *Manager) JoinRoom(ctx context.Context, roomID, userID string, send func(types.Frame) error) error {
	lock := m.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.store.GetActiveSession(ctx, roomID)
	if err != nil {
		if err == interfaces.ErrSessionNotFound {
			return send(types.InfoFrame("no active session"))
		}
		return err
	}

	now := time.Now().UTC()
	if session.AddToRoster(userID) {
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return fmt.Errorf("failed to persist roster update: %w", err)
		}
		log.Printf("Roster add: session=%s room=%s user=%s size=%d", session.ID, roomID, userID, len(session.Roster))
	}
	m.attendance.OnJoin(session.ID, userID, now)

	return send(types.StateRestoreFrame(session.State, session.ActiveContent))
}

// ListActive returns the caller's active sessions with batch names.
func (m *Manager) ListActive(ctx context.Context, teacherID string) ([]*types.ActiveSessionInfo, error) {
	return m.store.ListActiveSessions(ctx, teacherID)
}
