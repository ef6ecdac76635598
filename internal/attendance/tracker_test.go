package attendance

import (
	"testing"
	"time"

	"liveclass/pkg/types"
)

func TestTracker_FirstJoinWins(t *testing.T) {
	tracker := NewTracker()
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later := first.Add(10 * time.Minute)

	tracker.OnJoin("s1", "alice", first)
	tracker.OnJoin("s1", "alice", later) // reconnect

	session := &types.LiveSession{ID: "s1", Roster: []string{"alice"}, StartedAt: first}
	records := tracker.Finalize(session, first.Add(time.Hour))

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if !records[0].JoinedAt.Equal(first) {
		t.Errorf("Reconnect must not move the join time: got %v", records[0].JoinedAt)
	}
}

func TestTracker_FinalizeEmitsOnePerRosterMember(t *testing.T) {
	tracker := NewTracker()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tracker.OnJoin("s1", "alice", start.Add(time.Minute))
	// bob is on the roster but has no tracked join (process restart).
	session := &types.LiveSession{ID: "s1", Roster: []string{"alice", "bob"}, StartedAt: start}

	records := tracker.Finalize(session, end)
	if len(records) != 2 {
		t.Fatalf("Expected one record per roster member, got %d", len(records))
	}

	byUser := make(map[string]*types.AttendanceRecord)
	for _, r := range records {
		byUser[r.UserID] = r
	}

	if !byUser["alice"].JoinedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("Tracked join time lost: %v", byUser["alice"].JoinedAt)
	}
	if !byUser["bob"].JoinedAt.Equal(start) {
		t.Errorf("Untracked member should fall back to session start, got %v", byUser["bob"].JoinedAt)
	}
	for _, r := range records {
		if r.LeftAt == nil || !r.LeftAt.Equal(end) {
			t.Errorf("LeftAt should be the session end time, got %v", r.LeftAt)
		}
	}
}

func TestTracker_FinalizeClearsState(t *testing.T) {
	tracker := NewTracker()
	now := time.Now().UTC()

	tracker.OnJoin("s1", "alice", now)
	if tracker.Tracked("s1") != 1 {
		t.Fatalf("Expected 1 tracked user, got %d", tracker.Tracked("s1"))
	}

	session := &types.LiveSession{ID: "s1", Roster: []string{"alice"}, StartedAt: now}
	tracker.Finalize(session, now.Add(time.Minute))

	if tracker.Tracked("s1") != 0 {
		t.Error("Finalize must clear the session's tracking state")
	}
}

func TestTracker_SessionsIsolated(t *testing.T) {
	tracker := NewTracker()
	now := time.Now().UTC()

	tracker.OnJoin("s1", "alice", now)
	tracker.OnJoin("s2", "alice", now)

	session := &types.LiveSession{ID: "s1", Roster: []string{"alice"}, StartedAt: now}
	tracker.Finalize(session, now.Add(time.Minute))

	if tracker.Tracked("s2") != 1 {
		t.Error("Finalizing one session must not touch another")
	}
}
