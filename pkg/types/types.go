package types

import (
	"time"
)

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	StateWaiting  SessionState = "WAITING"
	StateQuiz     SessionState = "QUIZ"
	StatePoll     SessionState = "POLL"
	StateMaterial SessionState = "MATERIAL"
	StateEnded    SessionState = "ENDED"
)

// PrepStatus tracks the content preparation pipeline for a time slot.
type PrepStatus string

const (
	PrepPending PrepStatus = "PENDING"
	PrepRunning PrepStatus = "RUNNING"
	PrepReady   PrepStatus = "READY"
	PrepFailed  PrepStatus = "FAILED"
)

// Frame type constants for the real-time channel. State-transition
// broadcasts reuse the SessionState value as the frame type.
const (
	FrameStateRestore = "STATE_RESTORE"
	FrameSessionEnded = "SESSION_ENDED"
	FrameUserLeft     = "USER_LEFT"
	FrameInfo         = "INFO"
)

// LiveSession is one teaching session for a room. A room (batch id) has at
// most one session whose state is not ENDED. ENDED is terminal.
type LiveSession struct {
	ID              string                 `json:"id" db:"id"`
	RoomID          string                 `json:"room_id" db:"room_id"`
	TimeSlotID      string                 `json:"timeslot_id,omitempty" db:"timeslot_id"`
	State           SessionState           `json:"state" db:"state"`
	ActiveContent   map[string]interface{} `json:"active_content,omitempty" db:"active_content"`
	Roster          []string               `json:"roster" db:"roster"`
	SessionCode     string                 `json:"session_code" db:"session_code"`
	Epoch           uint64                 `json:"epoch" db:"epoch"`
	StartedAt       time.Time              `json:"started_at" db:"started_at"`
	EndedAt         *time.Time             `json:"ended_at,omitempty" db:"ended_at"`
	AttendanceCount int                    `json:"attendance_count" db:"attendance_count"`
}

// InRoster reports whether userID is already a roster member.
func (s *LiveSession) InRoster(userID string) bool {
	for _, id := range s.Roster {
		if id == userID {
			return true
		}
	}
	return false
}

// AddToRoster adds userID to the roster if not already present and reports
// whether the roster changed. Roster membership is monotone-add for the
// life of a session: disconnects and evictions never shrink it, so the
// roster counts distinct joiners rather than currently open connections.
// Attendance at session end is derived from this set.
func (s *LiveSession) AddToRoster(userID string) bool {
	if s.InRoster(userID) {
		return false
	}
	s.Roster = append(s.Roster, userID)
	return true
}

// TimeSlot is a scheduled class occurrence. Topic edits reset PrepStatus
// to PENDING and re-trigger the content preparation pipeline.
type TimeSlot struct {
	ID           string     `json:"id" db:"id"`
	BatchID      string     `json:"batch_id" db:"batch_id"`
	TeacherID    string     `json:"teacher_id" db:"teacher_id"`
	StartTime    time.Time  `json:"start_time" db:"start_time"`
	EndTime      time.Time  `json:"end_time" db:"end_time"`
	Topic        string     `json:"topic" db:"topic"`
	AIPrepStatus PrepStatus `json:"ai_prep_status" db:"ai_prep_status"`
	PrepError    string     `json:"prep_error,omitempty" db:"prep_error"`
}

// Quiz is one generated quiz question.
type Quiz struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

// Poll is one generated poll question without a correct answer.
type Poll struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Flashcard is a front/back study card.
type Flashcard struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Material is a reading reference or teacher note.
type Material struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// LiveContent is generated material for a time slot. The pipeline writes it
// as a full overwrite keyed by TimeSlotID, never a merge.
type LiveContent struct {
	TimeSlotID string      `json:"timeslot_id" db:"timeslot_id"`
	Topic      string      `json:"topic" db:"topic"`
	Quizzes    []Quiz      `json:"quizzes"`
	Polls      []Poll      `json:"polls"`
	Flashcards []Flashcard `json:"flashcards"`
	Materials  []Material  `json:"materials"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// AttendanceRecord is the per-student roster snapshot produced when a
// session ends.
type AttendanceRecord struct {
	SessionID string     `json:"session_id" db:"session_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	JoinedAt  time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// Batch is the student group behind a room. The room id of a live session
// is its batch id.
type Batch struct {
	ID         string   `json:"id" db:"id"`
	Name       string   `json:"name" db:"name"`
	TeacherID  string   `json:"teacher_id" db:"teacher_id"`
	StudentIDs []string `json:"student_ids" db:"student_ids"`
}

// Notification is an out-of-band push record informing a student that a
// session started, independent of the live channel.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	BatchID   string    `json:"batch_id" db:"batch_id"`
	Kind      string    `json:"kind" db:"kind"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActiveSessionInfo is one row of the teacher-facing active session listing.
type ActiveSessionInfo struct {
	SessionID   string    `json:"session_id"`
	BatchID     string    `json:"batch_id"`
	BatchName   string    `json:"batch_name"`
	SessionCode string    `json:"session_code"`
	StartedAt   time.Time `json:"started_at"`
}

// Frame is one JSON message on the real-time channel.
type Frame struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Message string                 `json:"message,omitempty"`
	UserID  string                 `json:"user_id,omitempty"`
}

// StateRestoreFrame builds the resynchronization frame sent to a single
// connection on join. The payload mirrors the last committed state exactly.
func StateRestoreFrame(state SessionState, activeContent map[string]interface{}) Frame {
	return Frame{
		Type: FrameStateRestore,
		Payload: map[string]interface{}{
			"current_state":  string(state),
			"active_content": activeContent,
		},
	}
}

// TransitionFrame builds the broadcast for a committed state transition.
func TransitionFrame(state SessionState, payload map[string]interface{}) Frame {
	return Frame{Type: string(state), Payload: payload}
}

// SessionEndedFrame builds the terminal broadcast for a session.
func SessionEndedFrame() Frame {
	return Frame{Type: FrameSessionEnded}
}

// UserLeftFrame notifies a room that a member's connection was evicted.
func UserLeftFrame(userID string) Frame {
	return Frame{Type: FrameUserLeft, UserID: userID}
}

// InfoFrame builds an informational frame for a single connection.
func InfoFrame(message string) Frame {
	return Frame{Type: FrameInfo, Message: message}
}
