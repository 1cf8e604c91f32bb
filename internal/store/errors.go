package store

import "errors"

var (
	// ErrNotParticipant means the caller has no active membership in the
	// conversation the operation targets.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrConversationNotFound means the conversation does not exist or is not
	// visible to the caller.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound means no matching undeleted message exists.
	ErrMessageNotFound = errors.New("message not found")
	// ErrBadRequest wraps malformed input.
	ErrBadRequest = errors.New("bad request")
)
