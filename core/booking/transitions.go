package booking

import "fmt"

// Event is a lifecycle operation that moves a session between stored statuses.
type Event string

const (
	EventRequested     Event = "session-requested"
	EventAccepted      Event = "session-accepted"
	EventRejected      Event = "session-rejected"
	EventCancelled     Event = "session-cancelled"
	EventRescheduled   Event = "session-rescheduled"
	EventCompleted     Event = "session-completed"
	EventSuccessful    Event = "session-successful"
	EventTutorNoShow   Event = "tutor-no-show"
	EventStudentNoShow Event = "student-no-show"
	EventDisputed      Event = "dispute-reported"
)

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventAccepted:      {from: []Status{StatusPending}, to: StatusConfirmed},
	EventRejected:      {from: []Status{StatusPending}, to: StatusRejected},
	EventCancelled:     {from: []Status{StatusPending, StatusConfirmed}, to: StatusCancelled},
	EventRescheduled:   {from: []Status{StatusPending, StatusConfirmed}, to: StatusRescheduled},
	EventCompleted:     {from: []Status{StatusConfirmed}, to: StatusCompleted},
	EventSuccessful:    {from: []Status{StatusConfirmed, StatusCompleted}, to: StatusSuccessful},
	EventTutorNoShow:   {from: []Status{StatusConfirmed, StatusCompleted}, to: StatusTutorNoShow},
	EventStudentNoShow: {from: []Status{StatusConfirmed, StatusCompleted}, to: StatusStudentNoShow},
}

// TransitionError is returned when an event does not apply to the session's current status.
type TransitionError struct {
	Event Event
	From  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s is not allowed for a %s session", e.Event, e.From)
}

// Next returns the status a session in status from reaches through ev.
func Next(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return "", &TransitionError{Event: ev, From: from}
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return "", &TransitionError{Event: ev, From: from}
}

// IsTerminal reports whether no event can move a session out of s.
func IsTerminal(s Status) bool {
	for _, t := range transitions {
		for _, from := range t.from {
			if from == s {
				return false
			}
		}
	}
	return true
}
