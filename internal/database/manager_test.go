package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestManager_SchemaApplied(t *testing.T) {
	manager := newTestManager(t)

	validator := dbconfig.NewSchemaValidator(manager.GetDB())
	if err := validator.ValidateTablesExist(); err != nil {
		t.Errorf("Schema should be applied at startup: %v", err)
	}
}

func TestManager_SessionRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	session := &types.LiveSession{
		ID:          "s-1",
		RoomID:      "batch-1",
		TimeSlotID:  "slot-1",
		State:       types.StateWaiting,
		Roster:      []string{},
		SessionCode: "ABC234",
		Epoch:       1,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}

	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := manager.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.RoomID != "batch-1" || got.State != types.StateWaiting || got.Epoch != 1 {
		t.Errorf("Session fields lost in round trip: %+v", got)
	}
	if got.EndedAt != nil {
		t.Errorf("EndedAt should be nil for a live session, got %v", got.EndedAt)
	}
	if len(got.Roster) != 0 {
		t.Errorf("Empty roster should round-trip empty, got %v", got.Roster)
	}

	if _, err := manager.GetSession(ctx, "missing"); err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_UpdateSessionPersistsMutableFields(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	session := &types.LiveSession{
		ID: "s-1", RoomID: "batch-1", State: types.StateWaiting,
		Roster: []string{}, SessionCode: "ABC234", Epoch: 1,
		StartedAt: time.Now().UTC(),
	}
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.State = types.StateQuiz
	session.ActiveContent = map[string]interface{}{"quiz_id": "q-1"}
	session.Roster = []string{"alice", "bob"}
	if err := manager.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, _ := manager.GetSession(ctx, "s-1")
	if got.State != types.StateQuiz {
		t.Errorf("State not persisted: %s", got.State)
	}
	if got.ActiveContent["quiz_id"] != "q-1" {
		t.Errorf("Active content not persisted: %v", got.ActiveContent)
	}
	if len(got.Roster) != 2 {
		t.Errorf("Roster not persisted: %v", got.Roster)
	}

	ghost := &types.LiveSession{ID: "missing", Roster: []string{}}
	if err := manager.UpdateSession(ctx, ghost); err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound for unknown session, got %v", err)
	}
}

func TestManager_GetActiveSessionAndEpochs(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.GetActiveSession(ctx, "batch-1"); err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound with no sessions, got %v", err)
	}
	if epoch, _ := manager.MaxEpoch(ctx, "batch-1"); epoch != 0 {
		t.Errorf("Expected epoch 0 for fresh room, got %d", epoch)
	}

	ended := time.Now().UTC()
	old := &types.LiveSession{
		ID: "s-old", RoomID: "batch-1", State: types.StateEnded,
		Roster: []string{}, SessionCode: "OLD234", Epoch: 1,
		StartedAt: ended.Add(-time.Hour), EndedAt: &ended,
	}
	live := &types.LiveSession{
		ID: "s-live", RoomID: "batch-1", State: types.StateQuiz,
		Roster: []string{}, SessionCode: "NEW234", Epoch: 2,
		StartedAt: ended,
	}
	for _, s := range []*types.LiveSession{old, live} {
		if err := manager.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	got, err := manager.GetActiveSession(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetActiveSession failed: %v", err)
	}
	if got.ID != "s-live" {
		t.Errorf("ENDED session must never be the active one, got %s", got.ID)
	}

	if epoch, _ := manager.MaxEpoch(ctx, "batch-1"); epoch != 2 {
		t.Errorf("MaxEpoch should span ended sessions too, got %d", epoch)
	}
}

func TestManager_ListActiveSessionsJoinsBatches(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	batch := &types.Batch{ID: "batch-1", Name: "Physics 101", TeacherID: "teacher-1", StudentIDs: []string{"alice"}}
	if err := manager.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	session := &types.LiveSession{
		ID: "s-1", RoomID: "batch-1", State: types.StateWaiting,
		Roster: []string{}, SessionCode: "ABC234", Epoch: 1,
		StartedAt: time.Now().UTC(),
	}
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	infos, err := manager.ListActiveSessions(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(infos))
	}
	if infos[0].BatchName != "Physics 101" || infos[0].SessionCode != "ABC234" {
		t.Errorf("Join result wrong: %+v", infos[0])
	}

	infos, _ = manager.ListActiveSessions(ctx, "teacher-2")
	if len(infos) != 0 {
		t.Errorf("Other teachers must not see the session, got %d", len(infos))
	}
}

func TestManager_TimeSlotTopicAndPrepStatus(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	slot := &types.TimeSlot{
		ID: "slot-1", BatchID: "batch-1", TeacherID: "teacher-1",
		StartTime: time.Now().UTC(), EndTime: time.Now().UTC().Add(time.Hour),
		Topic: "waves", AIPrepStatus: types.PrepReady,
	}
	if err := manager.CreateTimeSlot(ctx, slot); err != nil {
		t.Fatalf("CreateTimeSlot failed: %v", err)
	}

	if err := manager.UpdateTopic(ctx, "slot-1", "optics"); err != nil {
		t.Fatalf("UpdateTopic failed: %v", err)
	}
	got, err := manager.GetTimeSlot(ctx, "slot-1")
	if err != nil {
		t.Fatalf("GetTimeSlot failed: %v", err)
	}
	if got.Topic != "optics" || got.AIPrepStatus != types.PrepPending {
		t.Errorf("UpdateTopic must set topic and reset to PENDING atomically: %+v", got)
	}

	if err := manager.SetPrepStatus(ctx, "slot-1", types.PrepFailed, "generator down"); err != nil {
		t.Fatalf("SetPrepStatus failed: %v", err)
	}
	got, _ = manager.GetTimeSlot(ctx, "slot-1")
	if got.AIPrepStatus != types.PrepFailed || got.PrepError != "generator down" {
		t.Errorf("Prep status not persisted: %+v", got)
	}

	if err := manager.UpdateTopic(ctx, "missing", "x"); err != interfaces.ErrTimeSlotNotFound {
		t.Errorf("Expected ErrTimeSlotNotFound, got %v", err)
	}

	slots, err := manager.ListTimeSlots(ctx, "batch-1")
	if err != nil || len(slots) != 1 {
		t.Errorf("ListTimeSlots: err=%v len=%d", err, len(slots))
	}
}

func TestManager_ContentUpsertIsFullOverwrite(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	first := &types.LiveContent{
		TimeSlotID: "slot-1",
		Topic:      "waves",
		Quizzes:    []types.Quiz{{ID: "q-1", Question: "?", Options: []string{"a"}, Answer: 0}},
		Polls:      []types.Poll{{ID: "p-1", Question: "?", Options: []string{"a"}}},
		UpdatedAt:  time.Now().UTC(),
	}
	if err := manager.UpsertContent(ctx, first); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	second := &types.LiveContent{
		TimeSlotID: "slot-1",
		Topic:      "optics",
		Flashcards: []types.Flashcard{{ID: "f-1", Front: "a", Back: "b"}},
		UpdatedAt:  time.Now().UTC(),
	}
	if err := manager.UpsertContent(ctx, second); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := manager.GetContent(ctx, "slot-1")
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if got.Topic != "optics" {
		t.Errorf("Topic not overwritten: %s", got.Topic)
	}
	if len(got.Quizzes) != 0 || len(got.Polls) != 0 {
		t.Error("Upsert must replace, not merge, the previous content")
	}
	if len(got.Flashcards) != 1 {
		t.Errorf("New content missing: %+v", got.Flashcards)
	}

	if _, err := manager.GetContent(ctx, "missing"); err != interfaces.ErrContentNotFound {
		t.Errorf("Expected ErrContentNotFound, got %v", err)
	}
}

func TestManager_AttendanceRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	end := time.Now().UTC().Truncate(time.Second)
	records := []*types.AttendanceRecord{
		{SessionID: "s-1", UserID: "alice", JoinedAt: end.Add(-time.Hour), LeftAt: &end},
		{SessionID: "s-1", UserID: "bob", JoinedAt: end.Add(-30 * time.Minute), LeftAt: &end},
	}
	if err := manager.SaveAttendance(ctx, records); err != nil {
		t.Fatalf("SaveAttendance failed: %v", err)
	}

	got, err := manager.ListAttendance(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].UserID != "alice" {
		t.Errorf("Records should be ordered by join time, got %s first", got[0].UserID)
	}

	// Re-saving replaces rather than duplicating.
	if err := manager.SaveAttendance(ctx, records[:1]); err != nil {
		t.Fatalf("Re-save failed: %v", err)
	}
	got, _ = manager.ListAttendance(ctx, "s-1")
	if len(got) != 2 {
		t.Errorf("Re-save must not duplicate records, got %d", len(got))
	}
}

func TestManager_NotificationsAndHealth(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	n := &types.Notification{
		ID: "n-1", UserID: "alice", BatchID: "batch-1",
		Kind: "SESSION_STARTED", Body: "Class started", CreatedAt: time.Now().UTC(),
	}
	if err := manager.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed on a healthy database: %v", err)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}
