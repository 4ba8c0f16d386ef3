package booking

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrForbidden           = errors.New("you are not allowed to perform this action on this session")
	ErrStatusChanged       = errors.New("session was modified concurrently")
	ErrSessionStarted      = errors.New("session has already started")
	ErrSessionNotEnded     = errors.New("session has not ended yet")
	ErrDisputeRequired     = errors.New("session was marked successful, report an issue instead")
	ErrAlreadyReported     = errors.New("a no-show was already reported for this session")
	ErrDisputeNotAllowed   = errors.New("issues can only be reported on successful sessions")
	ErrSlotUnavailable     = errors.New("the tutor is not available at this time")
	ErrInvalidAvailability = errors.New("invalid availability")
)

// NoticeError is returned when a cancellation or reschedule comes too close to the session start.
type NoticeError struct {
	RequiredHours  int
	HoursRemaining float64
}

func (e *NoticeError) Error() string {
	return fmt.Sprintf("sessions must be changed at least %d hours before they start (%.1f hours left)", e.RequiredHours, e.HoursRemaining)
}

// IsConflict reports whether err is a lifecycle refusal caused by the session's state or timing.
func IsConflict(err error) bool {
	switch e := errors.Cause(err); e.(type) {
	case *TransitionError, *NoticeError:
		return true
	default:
		switch e {
		case ErrStatusChanged, ErrSessionStarted, ErrSessionNotEnded, ErrDisputeRequired, ErrAlreadyReported, ErrDisputeNotAllowed:
			return true
		}
	}
	return false
}
