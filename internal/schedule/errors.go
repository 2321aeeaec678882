package schedule

import "errors"

// Common schedule database errors
var (
	// ErrUnknownParticipant indicates an edit or lookup for a participant
	// that was never registered or has been unregistered
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrParticipantExists indicates a registration collision on an id
	// that is already held by a different (owner, name) pair
	ErrParticipantExists = errors.New("participant id already in use")
)
