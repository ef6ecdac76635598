package types

import (
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// IsValidUserID checks user id format: 1-50 characters, alphanumeric plus
// underscore and hyphen.
func IsValidUserID(userID string) bool {
	return idPattern.MatchString(userID)
}

// IsValidRoomID checks room (batch) id format, same rules as user ids.
func IsValidRoomID(roomID string) bool {
	return idPattern.MatchString(roomID)
}

// IsContentState reports whether state carries an active content payload.
// Active content is non-nil only in these states.
func IsContentState(state SessionState) bool {
	switch state {
	case StateQuiz, StatePoll, StateMaterial:
		return true
	default:
		return false
	}
}

// IsValidTransitionTarget reports whether state is a legal target for a
// teacher-driven transition. ENDED is reached only through End, never
// through Transition.
func IsValidTransitionTarget(state SessionState) bool {
	switch state {
	case StateWaiting, StateQuiz, StatePoll, StateMaterial:
		return true
	default:
		return false
	}
}
