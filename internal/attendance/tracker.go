package attendance

import (
	"sync"
	"time"

	"liveclass/pkg/types"
)

// Tracker derives join accounting from roster-add events. It keeps the
// first join timestamp per (session, user); reconnect churn never updates
// it, matching the roster's monotone-add semantics. Records are emitted
// once when the session ends.
type Tracker struct {
	mu    sync.Mutex
	joins map[string]map[string]time.Time // sessionID -> userID -> first join
}

// NewTracker creates an empty attendance tracker.
func NewTracker() *Tracker {
	return &Tracker{
		joins: make(map[string]map[string]time.Time),
	}
}

// OnJoin records a roster addition. Idempotent: repeat joins (reconnects)
// keep the original timestamp.
func (t *Tracker) OnJoin(sessionID, userID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.joins[sessionID]
	if users == nil {
		users = make(map[string]time.Time)
		t.joins[sessionID] = users
	}
	if _, seen := users[userID]; !seen {
		users[userID] = at
	}
}

// Finalize emits one AttendanceRecord per roster member and clears the
// session's tracking state. Members without a tracked join (for example
// after a process restart mid-session) fall back to the session start
// time, the best available join timestamp.
func (t *Tracker) Finalize(session *types.LiveSession, endedAt time.Time) []*types.AttendanceRecord {
	t.mu.Lock()
	users := t.joins[session.ID]
	delete(t.joins, session.ID)
	t.mu.Unlock()

	records := make([]*types.AttendanceRecord, 0, len(session.Roster))
	for _, userID := range session.Roster {
		joinedAt, ok := users[userID]
		if !ok {
			joinedAt = session.StartedAt
		}
		left := endedAt
		records = append(records, &types.AttendanceRecord{
			SessionID: session.ID,
			UserID:    userID,
			JoinedAt:  joinedAt,
			LeftAt:    &left,
		})
	}
	return records
}

// Tracked returns the number of users currently tracked for a session.
func (t *Tracker) Tracked(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joins[sessionID])
}
