package database

import (
	"database/sql"
	"fmt"
)

// Schema DDL applied at startup. Statements are idempotent so repeated
// application across restarts is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		teacher_id  TEXT NOT NULL,
		student_ids TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		room_id          TEXT NOT NULL,
		timeslot_id      TEXT,
		state            TEXT NOT NULL,
		active_content   TEXT,
		roster           TEXT NOT NULL,
		session_code     TEXT NOT NULL,
		epoch            INTEGER NOT NULL,
		started_at       DATETIME NOT NULL,
		ended_at         DATETIME,
		attendance_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_room_state ON sessions(room_id, state)`,
	`CREATE TABLE IF NOT EXISTS timeslots (
		id             TEXT PRIMARY KEY,
		batch_id       TEXT NOT NULL,
		teacher_id     TEXT NOT NULL,
		start_time     DATETIME NOT NULL,
		end_time       DATETIME NOT NULL,
		topic          TEXT NOT NULL,
		ai_prep_status TEXT NOT NULL,
		prep_error     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_timeslots_batch ON timeslots(batch_id)`,
	`CREATE TABLE IF NOT EXISTS live_content (
		timeslot_id TEXT PRIMARY KEY,
		topic       TEXT NOT NULL,
		quizzes     TEXT NOT NULL,
		polls       TEXT NOT NULL,
		flashcards  TEXT NOT NULL,
		materials   TEXT NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		session_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		joined_at  DATETIME NOT NULL,
		left_at    DATETIME,
		PRIMARY KEY (session_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		batch_id   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,
}

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// SchemaValidator provides database schema validation for deployment
// verification and tests.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"batches":       "Batch rosters",
		"sessions":      "Live session state",
		"timeslots":     "Scheduled class slots",
		"live_content":  "Generated session content",
		"attendance":    "Per-session attendance records",
		"notifications": "Out-of-band push records",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

func (v *SchemaValidator) tableExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
