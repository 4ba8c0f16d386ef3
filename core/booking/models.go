package booking

import (
	"encoding/json"
	"time"

	"github.com/trezcool/tutorly/core"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusCancelled     Status = "cancelled"
	StatusRejected      Status = "rejected"
	StatusRescheduled   Status = "rescheduled"
	StatusCompleted     Status = "completed"
	StatusSuccessful    Status = "successful"
	StatusTutorNoShow   Status = "tutor-no-show"
	StatusStudentNoShow Status = "student-no-show"

	// StatusExpired is never stored. See DisplayStatus.
	StatusExpired Status = "expired"
)

var (
	AllowedDurations = []int{30, 60, 90, 120}

	creditMinutes = 30
)

// CreditsFor returns the credit cost of a session lasting durationMinutes: one credit per started half hour.
func CreditsFor(durationMinutes int) int {
	return (durationMinutes + creditMinutes - 1) / creditMinutes
}

func IsAllowedDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

type OwnerKind string

const (
	OwnerStudent OwnerKind = "student"
	OwnerSchool  OwnerKind = "school"
)

// Owner is the party a session belongs to: a StudentOwner or a SchoolOwner.
type Owner interface {
	Kind() OwnerKind
	// FundedBy is the user whose credit account pays for the session.
	FundedBy() string
	// IsHeldBy reports whether userID acts as the owning party.
	IsHeldBy(userID string) bool
}

type StudentOwner struct {
	StudentID string
}

func (o StudentOwner) Kind() OwnerKind             { return OwnerStudent }
func (o StudentOwner) FundedBy() string            { return o.StudentID }
func (o StudentOwner) IsHeldBy(userID string) bool { return o.StudentID == userID }

// SchoolOwner sessions are booked and funded by the school's principal.
type SchoolOwner struct {
	SchoolID    string
	PrincipalID string
}

func (o SchoolOwner) Kind() OwnerKind             { return OwnerSchool }
func (o SchoolOwner) FundedBy() string            { return o.PrincipalID }
func (o SchoolOwner) IsHeldBy(userID string) bool { return o.PrincipalID == userID }

type Cancellation struct {
	Reason        string    `json:"reason"`
	By            string    `json:"by"`
	RefundCredits int       `json:"refund_credits"`
	At            time.Time `json:"at"`
}

type Session struct {
	ID              string
	Owner           Owner
	TutorID         string
	Subject         string
	StartAt         time.Time // UTC
	DurationMinutes int
	CreditsRequired int
	Status          Status
	MeetingLink     string
	Cancellation    *Cancellation
	RescheduledFrom string
	RescheduledTo   string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s Session) EndAt() time.Time {
	return s.StartAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsParty reports whether userID is the tutor or the owning party of s.
func (s Session) IsParty(userID string) bool {
	return s.TutorID == userID || (s.Owner != nil && s.Owner.IsHeldBy(userID))
}

// DisplayStatus derives what a reader should see at now without touching the stored status:
// a pending session whose start has passed is expired, a confirmed one whose end has passed is completed.
func DisplayStatus(s Session, now time.Time) Status {
	switch {
	case s.Status == StatusPending && !now.Before(s.StartAt):
		return StatusExpired
	case s.Status == StatusConfirmed && !now.Before(s.EndAt()):
		return StatusCompleted
	default:
		return s.Status
	}
}

type sessionJSON struct {
	ID              string        `json:"id"`
	OwnerKind       OwnerKind     `json:"owner_kind"`
	StudentID       string        `json:"student_id,omitempty"`
	SchoolID        string        `json:"school_id,omitempty"`
	FundedBy        string        `json:"funded_by"`
	TutorID         string        `json:"tutor_id"`
	Subject         string        `json:"subject"`
	StartAt         time.Time     `json:"start_at"`
	EndAt           time.Time     `json:"end_at"`
	DurationMinutes int           `json:"duration_minutes"`
	CreditsRequired int           `json:"credits_required"`
	Status          Status        `json:"status"`
	MeetingLink     string        `json:"meeting_link,omitempty"`
	Cancellation    *Cancellation `json:"cancellation,omitempty"`
	RescheduledFrom string        `json:"rescheduled_from,omitempty"`
	RescheduledTo   string        `json:"rescheduled_to,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	out := sessionJSON{
		ID:              s.ID,
		TutorID:         s.TutorID,
		Subject:         s.Subject,
		StartAt:         s.StartAt,
		EndAt:           s.EndAt(),
		DurationMinutes: s.DurationMinutes,
		CreditsRequired: s.CreditsRequired,
		Status:          s.Status,
		MeetingLink:     s.MeetingLink,
		Cancellation:    s.Cancellation,
		RescheduledFrom: s.RescheduledFrom,
		RescheduledTo:   s.RescheduledTo,
		CreatedBy:       s.CreatedBy,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	switch o := s.Owner.(type) {
	case StudentOwner:
		out.OwnerKind, out.StudentID, out.FundedBy = OwnerStudent, o.StudentID, o.StudentID
	case SchoolOwner:
		out.OwnerKind, out.SchoolID, out.FundedBy = OwnerSchool, o.SchoolID, o.PrincipalID
	}
	return json.Marshal(out)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Session{
		ID:              in.ID,
		Owner:           NewOwner(in.StudentID, in.SchoolID, in.FundedBy),
		TutorID:         in.TutorID,
		Subject:         in.Subject,
		StartAt:         in.StartAt,
		DurationMinutes: in.DurationMinutes,
		CreditsRequired: in.CreditsRequired,
		Status:          in.Status,
		MeetingLink:     in.MeetingLink,
		Cancellation:    in.Cancellation,
		RescheduledFrom: in.RescheduledFrom,
		RescheduledTo:   in.RescheduledTo,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
	}
	return nil
}

// NewOwner rebuilds an Owner from its stored columns. schoolID wins when both are set.
func NewOwner(studentID, schoolID, fundedBy string) Owner {
	if schoolID != "" {
		return SchoolOwner{SchoolID: schoolID, PrincipalID: fundedBy}
	}
	return StudentOwner{StudentID: studentID}
}

// NewBooking contains what a student, or a principal for their school, provides to book a session.
type NewBooking struct {
	TutorID         string `json:"tutor_id" validate:"required,uuid"`
	SchoolID        string `json:"school_id" validate:"omitempty,uuid"`
	Subject         string `json:"subject" validate:"required,notblank,max=200"`
	Date            string `json:"date" validate:"required,date"`
	Time            string `json:"time" validate:"required,hhmm"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,duration"`
}

func (nb *NewBooking) Clean() {
	nb.TutorID = core.CleanString(nb.TutorID, true /* lower */)
	nb.SchoolID = core.CleanString(nb.SchoolID, true /* lower */)
	nb.Subject = core.CleanString(nb.Subject)
	nb.Date = core.CleanString(nb.Date)
	nb.Time = core.CleanString(nb.Time)
}

type AcceptRequest struct {
	MeetingLink string `json:"meeting_link" validate:"required,notblank,httplink"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=500"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,date"`
	Time string `json:"time" validate:"required,hhmm"`
}

type IssueReport struct {
	Message string `json:"message" validate:"required,notblank,max=2000"`
}

type QueryFilter struct {
	PartyID   string    // tutor or owning party
	TutorID   string    `query:"tutor_id"`
	FundedBy  string    `query:"funded_by"`
	Statuses  []Status  `query:"status"`
	StartFrom time.Time `query:"start_from"`
	StartTo   time.Time `query:"start_to"`
}
