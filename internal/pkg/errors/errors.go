package errors

import "errors"

// Custom application errors
var (
	ErrNoteNotFound       = errors.New("note not found")                          // Note with the given ID does not exist
	ErrInvalidNote        = errors.New("invalid note")                            // Missing title, zero reminder time, etc.
	ErrIDMismatch         = errors.New("note id in body does not match path")     // PUT body/path disagreement
	ErrInvalidQuery       = errors.New("invalid query parameter")                 // Bad filter/sort/top value
	ErrDatabaseOperation  = errors.New("database operation failed")               // Generic database error
	ErrChannelUnavailable = errors.New("notification channel unavailable")        // Publish could not reach the channel at all
	ErrSubscriberGone     = errors.New("subscriber is gone or not keeping up")    // Single subscriber delivery failure
	ErrConnectionNotFound = errors.New("notification connection not found")       // Join for an unknown stream connection
	ErrLineAPI            = errors.New("failed to communicate with the LINE API") // Generic LINE API error
	ErrScheduling         = errors.New("failed to schedule job")                  // Generic scheduling error
	ErrInternalServer     = errors.New("internal server error")                   // Generic internal error
)
