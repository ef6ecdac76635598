package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Manager implements the Store interface on SQLite. All writes funnel
// through a single goroutine; reads run concurrently on the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and schema, and starts
// the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.ApplySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop serializes all writes. A failed write is retried once after
// five seconds before the error is surfaced.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !isPermanent(err) {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateSession persists a new live session.
func (m *Manager) CreateSession(ctx context.Context, session *types.LiveSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		rosterJSON, err := json.Marshal(session.Roster)
		if err != nil {
			return fmt.Errorf("failed to marshal roster: %w", err)
		}
		contentJSON, err := marshalActiveContent(session.ActiveContent)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO sessions (id, room_id, timeslot_id, state, active_content, roster, session_code, epoch, started_at, ended_at, attendance_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.ID,
			session.RoomID,
			session.TimeSlotID,
			string(session.State),
			contentJSON,
			string(rosterJSON),
			session.SessionCode,
			session.Epoch,
			session.StartedAt,
			session.EndedAt,
			session.AttendanceCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

const sessionColumns = "id, room_id, timeslot_id, state, active_content, roster, session_code, epoch, started_at, ended_at, attendance_count"

func scanSession(row interface{ Scan(...interface{}) error }) (*types.LiveSession, error) {
	var session types.LiveSession
	var timeslotID sql.NullString
	var contentJSON sql.NullString
	var rosterJSON string
	var endedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.RoomID,
		&timeslotID,
		&session.State,
		&contentJSON,
		&rosterJSON,
		&session.SessionCode,
		&session.Epoch,
		&session.StartedAt,
		&endedAt,
		&session.AttendanceCount,
	)
	if err != nil {
		return nil, err
	}

	if timeslotID.Valid {
		session.TimeSlotID = timeslotID.String
	}
	if err := json.Unmarshal([]byte(rosterJSON), &session.Roster); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	if contentJSON.Valid && contentJSON.String != "" {
		if err := json.Unmarshal([]byte(contentJSON.String), &session.ActiveContent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal active content: %w", err)
		}
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}

// GetSession retrieves a session by id.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(m.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// GetActiveSession returns the room's non-ENDED session. A room holds at
// most one; the newest epoch wins if the invariant is ever violated.
func (m *Manager) GetActiveSession(ctx context.Context, roomID string) (*types.LiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE room_id = ? AND state != ?
		ORDER BY epoch DESC
		LIMIT 1
	`

	session, err := scanSession(m.db.QueryRowContext(ctx, query, roomID, string(types.StateEnded)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return session, nil
}

// UpdateSession persists the mutable fields of an existing session.
func (m *Manager) UpdateSession(ctx context.Context, session *types.LiveSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		rosterJSON, err := json.Marshal(session.Roster)
		if err != nil {
			return fmt.Errorf("failed to marshal roster: %w", err)
		}
		contentJSON, err := marshalActiveContent(session.ActiveContent)
		if err != nil {
			return err
		}

		query := `
			UPDATE sessions
			SET state = ?, active_content = ?, roster = ?, ended_at = ?, attendance_count = ?
			WHERE id = ?
		`
		res, err := db.ExecContext(ctx, query,
			string(session.State),
			contentJSON,
			string(rosterJSON),
			session.EndedAt,
			session.AttendanceCount,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListActiveSessions returns active-session rows for a teacher joined with
// batch names, newest first.
func (m *Manager) ListActiveSessions(ctx context.Context, teacherID string) ([]*types.ActiveSessionInfo, error) {
	query := `
		SELECT s.id, s.room_id, b.name, s.session_code, s.started_at
		FROM sessions s
		JOIN batches b ON b.id = s.room_id
		WHERE s.state != ? AND b.teacher_id = ?
		ORDER BY s.started_at DESC
	`

	rows, err := m.db.QueryContext(ctx, query, string(types.StateEnded), teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []*types.ActiveSessionInfo
	for rows.Next() {
		var info types.ActiveSessionInfo
		if err := rows.Scan(&info.SessionID, &info.BatchID, &info.BatchName, &info.SessionCode, &info.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan active session row: %w", err)
		}
		infos = append(infos, &info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active session rows: %w", err)
	}
	return infos, nil
}

// MaxEpoch returns the highest epoch ever used in a room, zero if none.
func (m *Manager) MaxEpoch(ctx context.Context, roomID string) (uint64, error) {
	var epoch sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(epoch) FROM sessions WHERE room_id = ?`, roomID,
	).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to query max epoch: %w", err)
	}
	if !epoch.Valid {
		return 0, nil
	}
	return uint64(epoch.Int64), nil
}

// CreateBatch persists a student batch.
func (m *Manager) CreateBatch(ctx context.Context, batch *types.Batch) error {
	return m.executeWrite(func(db *sql.DB) error {
		studentIDsJSON, err := json.Marshal(batch.StudentIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal student IDs: %w", err)
		}

		_, err = db.ExecContext(ctx,
			`INSERT INTO batches (id, name, teacher_id, student_ids) VALUES (?, ?, ?, ?)`,
			batch.ID, batch.Name, batch.TeacherID, string(studentIDsJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		return nil
	})
}

// GetBatch retrieves a batch by id.
func (m *Manager) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	var batch types.Batch
	var studentIDsJSON string

	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, teacher_id, student_ids FROM batches WHERE id = ?`, batchID,
	).Scan(&batch.ID, &batch.Name, &batch.TeacherID, &studentIDsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}

	if err := json.Unmarshal([]byte(studentIDsJSON), &batch.StudentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal student IDs: %w", err)
	}
	return &batch, nil
}

// CreateTimeSlot persists a scheduled class slot.
func (m *Manager) CreateTimeSlot(ctx context.Context, slot *types.TimeSlot) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO timeslots (id, batch_id, teacher_id, start_time, end_time, topic, ai_prep_status, prep_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			slot.ID, slot.BatchID, slot.TeacherID, slot.StartTime, slot.EndTime,
			slot.Topic, string(slot.AIPrepStatus), slot.PrepError,
		)
		if err != nil {
			return fmt.Errorf("failed to insert timeslot: %w", err)
		}
		return nil
	})
}

// GetTimeSlot retrieves a time slot by id.
func (m *Manager) GetTimeSlot(ctx context.Context, timeslotID string) (*types.TimeSlot, error) {
	var slot types.TimeSlot
	err := m.db.QueryRowContext(ctx,
		`SELECT id, batch_id, teacher_id, start_time, end_time, topic, ai_prep_status, prep_error
		 FROM timeslots WHERE id = ?`, timeslotID,
	).Scan(&slot.ID, &slot.BatchID, &slot.TeacherID, &slot.StartTime, &slot.EndTime,
		&slot.Topic, &slot.AIPrepStatus, &slot.PrepError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrTimeSlotNotFound
		}
		return nil, fmt.Errorf("failed to query timeslot: %w", err)
	}
	return &slot, nil
}

// ListTimeSlots returns a batch's slots in chronological order.
func (m *Manager) ListTimeSlots(ctx context.Context, batchID string) ([]*types.TimeSlot, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, batch_id, teacher_id, start_time, end_time, topic, ai_prep_status, prep_error
		 FROM timeslots WHERE batch_id = ? ORDER BY start_time ASC`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeslots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var slots []*types.TimeSlot
	for rows.Next() {
		var slot types.TimeSlot
		if err := rows.Scan(&slot.ID, &slot.BatchID, &slot.TeacherID, &slot.StartTime, &slot.EndTime,
			&slot.Topic, &slot.AIPrepStatus, &slot.PrepError); err != nil {
			return nil, fmt.Errorf("failed to scan timeslot row: %w", err)
		}
		slots = append(slots, &slot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeslot rows: %w", err)
	}
	return slots, nil
}

// UpdateTopic sets the topic and resets prep status to PENDING in one
// write, so readers never see a new topic with a stale READY status.
func (m *Manager) UpdateTopic(ctx context.Context, timeslotID, topic string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE timeslots SET topic = ?, ai_prep_status = ?, prep_error = '' WHERE id = ?`,
			topic, string(types.PrepPending), timeslotID,
		)
		if err != nil {
			return fmt.Errorf("failed to update topic: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return interfaces.ErrTimeSlotNotFound
		}
		return nil
	})
}

// SetPrepStatus updates pipeline status for a time slot.
func (m *Manager) SetPrepStatus(ctx context.Context, timeslotID string, status types.PrepStatus, lastError string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE timeslots SET ai_prep_status = ?, prep_error = ? WHERE id = ?`,
			string(status), lastError, timeslotID,
		)
		if err != nil {
			return fmt.Errorf("failed to update prep status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return interfaces.ErrTimeSlotNotFound
		}
		return nil
	})
}

// UpsertContent writes generated content as a full row replacement.
func (m *Manager) UpsertContent(ctx context.Context, content *types.LiveContent) error {
	return m.executeWrite(func(db *sql.DB) error {
		quizzesJSON, err := json.Marshal(content.Quizzes)
		if err != nil {
			return fmt.Errorf("failed to marshal quizzes: %w", err)
		}
		pollsJSON, err := json.Marshal(content.Polls)
		if err != nil {
			return fmt.Errorf("failed to marshal polls: %w", err)
		}
		flashcardsJSON, err := json.Marshal(content.Flashcards)
		if err != nil {
			return fmt.Errorf("failed to marshal flashcards: %w", err)
		}
		materialsJSON, err := json.Marshal(content.Materials)
		if err != nil {
			return fmt.Errorf("failed to marshal materials: %w", err)
		}

		query := `
			INSERT INTO live_content (timeslot_id, topic, quizzes, polls, flashcards, materials, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(timeslot_id) DO UPDATE SET
				topic = excluded.topic,
				quizzes = excluded.quizzes,
				polls = excluded.polls,
				flashcards = excluded.flashcards,
				materials = excluded.materials,
				updated_at = excluded.updated_at
		`
		_, err = db.ExecContext(ctx, query,
			content.TimeSlotID, content.Topic,
			string(quizzesJSON), string(pollsJSON), string(flashcardsJSON), string(materialsJSON),
			content.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert content: %w", err)
		}
		return nil
	})
}

// GetContent returns the prepared content for a time slot.
func (m *Manager) GetContent(ctx context.Context, timeslotID string) (*types.LiveContent, error) {
	var content types.LiveContent
	var quizzesJSON, pollsJSON, flashcardsJSON, materialsJSON string

	err := m.db.QueryRowContext(ctx,
		`SELECT timeslot_id, topic, quizzes, polls, flashcards, materials, updated_at
		 FROM live_content WHERE timeslot_id = ?`, timeslotID,
	).Scan(&content.TimeSlotID, &content.Topic, &quizzesJSON, &pollsJSON, &flashcardsJSON, &materialsJSON, &content.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to query content: %w", err)
	}

	for _, pair := range []struct {
		raw  string
		dest interface{}
	}{
		{quizzesJSON, &content.Quizzes},
		{pollsJSON, &content.Polls},
		{flashcardsJSON, &content.Flashcards},
		{materialsJSON, &content.Materials},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
	}
	return &content, nil
}

// SaveAttendance writes the end-of-session roster snapshot in one
// transaction. Re-saving a record for the same session and user replaces it.
func (m *Manager) SaveAttendance(ctx context.Context, records []*types.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		query := `
			INSERT INTO attendance (session_id, user_id, joined_at, left_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, user_id) DO UPDATE SET
				joined_at = excluded.joined_at,
				left_at = excluded.left_at
		`
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, query, rec.SessionID, rec.UserID, rec.JoinedAt, rec.LeftAt); err != nil {
				return fmt.Errorf("failed to insert attendance record: %w", err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit attendance: %w", err)
		}
		return nil
	})
}

// ListAttendance returns a session's attendance records ordered by join time.
func (m *Manager) ListAttendance(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT session_id, user_id, joined_at, left_at
		 FROM attendance WHERE session_id = ? ORDER BY joined_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.AttendanceRecord
	for rows.Next() {
		var rec types.AttendanceRecord
		var leftAt sql.NullTime
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.JoinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		if leftAt.Valid {
			rec.LeftAt = &leftAt.Time
		}
		records = append(records, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}

// CreateNotification persists an out-of-band push record.
func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, batch_id, kind, body, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.BatchID, n.Kind, n.Body, n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// isPermanent reports whether a write error cannot succeed on retry.
func isPermanent(err error) bool {
	return errors.Is(err, interfaces.ErrSessionNotFound) ||
		errors.Is(err, interfaces.ErrTimeSlotNotFound)
}

func marshalActiveContent(content map[string]interface{}) (interface{}, error) {
	if content == nil {
		return nil, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal active content: %w", err)
	}
	return string(raw), nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
