package booking

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
)

var NowFunc = time.Now // mockable

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		// GetSession locks the row until the end of the transaction when forUpdate is set.
		GetSession(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Session, error)
		// UpdateSession writes s only while the stored status still equals expected, ErrStatusChanged otherwise.
		UpdateSession(ctx context.Context, s Session, expected Status, exec ...core.DBExecutor) (Session, error)
		QuerySessions(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Session, error)

		GetAvailability(ctx context.Context, tutorID, date string, exec ...core.DBExecutor) ([]Window, error)
		ReplaceAvailability(ctx context.Context, tutorID, date string, windows []Window, exec ...core.DBExecutor) error
	}

	// Directory resolves the users and schools taking part in a booking.
	Directory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		GetSchool(ctx context.Context, id string) (user.School, error)
	}

	// Notifier tells the other party about a committed lifecycle event. It must not fail the operation.
	Notifier interface {
		Notify(ctx context.Context, ev Event, s Session, actor user.Identity, note string)
	}

	Policy struct {
		NoticeHours int
		Location    *time.Location
	}

	Deps struct {
		Repo     Repository
		Users    Directory
		Ledger   *ledger.Service
		Guard    *idempotency.Guard
		Tx       core.Transactor
		Validate *validator.Validate
		Notifier Notifier
		Metrics  core.MetricsRecorder
		Policy   Policy
	}

	Service struct {
		repo     Repository
		users    Directory
		ledger   *ledger.Service
		guard    *idempotency.Guard
		tx       core.Transactor
		validate *validator.Validate
		notifier Notifier
		metrics  core.MetricsRecorder
		policy   Policy
	}
)

func NewPolicy(conf *core.Config) Policy {
	return Policy{
		NoticeHours: conf.Booking.CancellationNoticeHours,
		Location:    conf.Booking.Location(),
	}
}

func NewService(deps Deps) *Service {
	if deps.Policy.Location == nil {
		deps.Policy.Location = time.UTC
	}
	return &Service{
		repo:     deps.Repo,
		users:    deps.Users,
		ledger:   deps.Ledger,
		guard:    deps.Guard,
		tx:       deps.Tx,
		validate: deps.Validate,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		policy:   deps.Policy,
	}
}

// Create books a pending session and debits its cost from the funding account in the same transaction.
// Students book for themselves; a principal books for their school by setting SchoolID.
func (svc *Service) Create(ctx context.Context, caller user.Identity, nb NewBooking, key string) (sess Session, err error) {
	defer func() { svc.observe(EventRequested, err) }()

	nb.Clean()
	if err = svc.validate.Struct(nb); err != nil {
		return Session{}, err
	}
	now := NowFunc().UTC()

	var replayed bool
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		scope := idempotency.Scope{OwnerID: caller.ID, Key: key, Operation: string(EventRequested), Request: nb}
		replayed, err = svc.guard.Run(ctx, exec, scope, &sess, func() (interface{}, error) {
			// a replayed key skips these checks: the stored session may already have started
			start, err := svc.policy.startAt(nb.Date, nb.Time, now)
			if err != nil {
				return nil, err
			}
			owner, err := svc.bookingOwner(ctx, caller, nb.SchoolID)
			if err != nil {
				return nil, err
			}
			if err = svc.checkTutor(ctx, caller, nb.TutorID); err != nil {
				return nil, err
			}

			credits := CreditsFor(nb.DurationMinutes)
			created, err := svc.repo.CreateSession(ctx, Session{
				ID:              uuid.NewString(),
				Owner:           owner,
				TutorID:         nb.TutorID,
				Subject:         nb.Subject,
				StartAt:         start,
				DurationMinutes: nb.DurationMinutes,
				CreditsRequired: credits,
				Status:          StatusPending,
				CreatedBy:       caller.ID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}, exec)
			if err != nil {
				return nil, errors.Wrap(err, "creating session")
			}
			if _, err = svc.ledger.Debit(ctx, exec, owner.FundedBy(), credits, ledger.KindBookingDebit, created.ID); err != nil {
				return nil, err
			}
			sess = created
			return created, nil
		})
		return err
	})
	if err != nil {
		return Session{}, err
	}

	if !replayed {
		svc.notifier.Notify(ctx, EventRequested, sess, caller, "")
	}
	return sess, nil
}

// Accept confirms a pending session. Only its tutor may accept it, with a meeting link.
func (svc *Service) Accept(ctx context.Context, caller user.Identity, id string, req AcceptRequest, key string) (Session, error) {
	req.MeetingLink = core.CleanString(req.MeetingLink)
	if err := svc.validate.Struct(req); err != nil {
		svc.observe(EventAccepted, err)
		return Session{}, err
	}

	return svc.run(ctx, mutation{
		event:   EventAccepted,
		caller:  caller,
		id:      id,
		key:     key,
		request: req,
		apply: func(_ core.DBExecutor, s *Session, _ time.Time) error {
			if s.TutorID != caller.ID {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventAccepted)
			if err != nil {
				return err
			}
			s.Status, s.MeetingLink = next, req.MeetingLink
			return nil
		},
	})
}

// Reject declines a pending session and refunds its funding account.
func (svc *Service) Reject(ctx context.Context, caller user.Identity, id, key string) (Session, error) {
	return svc.run(ctx, mutation{
		event:  EventRejected,
		caller: caller,
		id:     id,
		key:    key,
		apply: func(exec core.DBExecutor, s *Session, _ time.Time) error {
			if s.TutorID != caller.ID {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventRejected)
			if err != nil {
				return err
			}
			s.Status = next
			return svc.refund(ctx, exec, *s)
		},
	})
}

// Cancel cancels a pending or confirmed session outside the notice window and refunds it in full.
func (svc *Service) Cancel(ctx context.Context, caller user.Identity, id string, req CancelRequest, key string) (Session, error) {
	req.Reason = core.CleanString(req.Reason)
	if err := svc.validate.Struct(req); err != nil {
		svc.observe(EventCancelled, err)
		return Session{}, err
	}

	return svc.run(ctx, mutation{
		event:   EventCancelled,
		caller:  caller,
		id:      id,
		key:     key,
		request: req,
		note:    req.Reason,
		apply: func(exec core.DBExecutor, s *Session, now time.Time) error {
			if !s.Owner.IsHeldBy(caller.ID) {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventCancelled)
			if err != nil {
				return err
			}
			if err = svc.policy.checkNotice(s.StartAt, now); err != nil {
				return err
			}
			s.Status = next
			s.Cancellation = &Cancellation{
				Reason:        req.Reason,
				By:            ownerRole(s.Owner),
				RefundCredits: s.CreditsRequired,
				At:            now,
			}
			return svc.refund(ctx, exec, *s)
		},
	})
}

// Reschedule moves a session to another of its tutor's slots. The original becomes rescheduled and
// a new pending session carries its cost over; no credits move. The new session is returned.
func (svc *Service) Reschedule(ctx context.Context, caller user.Identity, id string, req RescheduleRequest, key string) (Session, error) {
	req.Date, req.Time = core.CleanString(req.Date), core.CleanString(req.Time)
	if err := svc.validate.Struct(req); err != nil {
		svc.observe(EventRescheduled, err)
		return Session{}, err
	}

	orig, replayed, err := svc.mutate(ctx, mutation{
		event:   EventRescheduled,
		caller:  caller,
		id:      id,
		key:     key,
		request: req,
		silent:  true,
		apply: func(exec core.DBExecutor, s *Session, now time.Time) error {
			if !s.Owner.IsHeldBy(caller.ID) {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventRescheduled)
			if err != nil {
				return err
			}
			if err = svc.policy.checkNotice(s.StartAt, now); err != nil {
				return err
			}
			start, err := svc.policy.startAt(req.Date, req.Time, now)
			if err != nil {
				return err
			}

			windows, err := svc.repo.GetAvailability(ctx, s.TutorID, req.Date, exec)
			if err != nil {
				return errors.Wrap(err, "getting availability")
			}
			if !containsSlot(Slots(windows), req.Time) {
				return core.NewValidationError(ErrSlotUnavailable, core.FieldError{Field: "time", Error: ErrSlotUnavailable.Error()})
			}

			replacement, err := svc.repo.CreateSession(ctx, Session{
				ID:              uuid.NewString(),
				Owner:           s.Owner,
				TutorID:         s.TutorID,
				Subject:         s.Subject,
				StartAt:         start,
				DurationMinutes: s.DurationMinutes,
				CreditsRequired: s.CreditsRequired,
				Status:          StatusPending,
				RescheduledFrom: s.ID,
				CreatedBy:       caller.ID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "creating replacement session")
			}
			s.Status, s.RescheduledTo = next, replacement.ID
			return nil
		},
	})
	if err != nil {
		return Session{}, err
	}

	replacement, err := svc.repo.GetSession(ctx, orig.RescheduledTo, false)
	if err != nil {
		return Session{}, errors.Wrap(err, "getting replacement session")
	}
	if !replayed {
		svc.notifier.Notify(ctx, EventRescheduled, replacement, caller, "")
	}
	return replacement, nil
}

// MarkCompleted records that a confirmed session took place once its end has passed.
func (svc *Service) MarkCompleted(ctx context.Context, caller user.Identity, id, key string) (Session, error) {
	return svc.run(ctx, mutation{
		event:  EventCompleted,
		caller: caller,
		id:     id,
		key:    key,
		silent: true,
		apply: func(_ core.DBExecutor, s *Session, now time.Time) error {
			if s.TutorID != caller.ID {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventCompleted)
			if err != nil {
				return err
			}
			if now.Before(s.EndAt()) {
				return ErrSessionNotEnded
			}
			s.Status = next
			return nil
		},
	})
}

// MarkSuccessful settles an ended session in the tutor's favour and pays the tutor its credits.
func (svc *Service) MarkSuccessful(ctx context.Context, caller user.Identity, id, key string) (Session, error) {
	return svc.run(ctx, mutation{
		event:  EventSuccessful,
		caller: caller,
		id:     id,
		key:    key,
		apply: func(exec core.DBExecutor, s *Session, now time.Time) error {
			if s.TutorID != caller.ID {
				return ErrForbidden
			}
			next, err := Next(s.Status, EventSuccessful)
			if err != nil {
				return err
			}
			if now.Before(s.EndAt()) {
				return ErrSessionNotEnded
			}
			s.Status = next
			return svc.payTutor(ctx, exec, *s)
		},
	})
}

// ReportTutorNoShow lets the owning party report that the tutor did not attend, refunding the session.
// Sessions the tutor already marked successful must go through ReportIssue instead.
func (svc *Service) ReportTutorNoShow(ctx context.Context, caller user.Identity, id, key string) (Session, error) {
	return svc.run(ctx, mutation{
		event:  EventTutorNoShow,
		caller: caller,
		id:     id,
		key:    key,
		apply: func(exec core.DBExecutor, s *Session, now time.Time) error {
			if !s.Owner.IsHeldBy(caller.ID) {
				return ErrForbidden
			}
			if err := checkNoShow(*s, now); err != nil {
				return err
			}
			next, err := Next(s.Status, EventTutorNoShow)
			if err != nil {
				return err
			}
			s.Status = next
			return svc.refund(ctx, exec, *s)
		},
	})
}

// ReportStudentNoShow lets the tutor report that the student did not attend. The tutor keeps the credits.
func (svc *Service) ReportStudentNoShow(ctx context.Context, caller user.Identity, id, key string) (Session, error) {
	return svc.run(ctx, mutation{
		event:  EventStudentNoShow,
		caller: caller,
		id:     id,
		key:    key,
		apply: func(exec core.DBExecutor, s *Session, now time.Time) error {
			if s.TutorID != caller.ID {
				return ErrForbidden
			}
			if err := checkNoShow(*s, now); err != nil {
				return err
			}
			next, err := Next(s.Status, EventStudentNoShow)
			if err != nil {
				return err
			}
			s.Status = next
			return svc.payTutor(ctx, exec, *s)
		},
	})
}

func checkNoShow(s Session, now time.Time) error {
	if now.Before(s.EndAt()) {
		return ErrSessionNotEnded
	}
	switch s.Status {
	case StatusSuccessful:
		return ErrDisputeRequired
	case StatusTutorNoShow, StatusStudentNoShow:
		return ErrAlreadyReported
	}
	return nil
}

// ReportIssue escalates a successful session to the admins. The session itself is left untouched.
func (svc *Service) ReportIssue(ctx context.Context, caller user.Identity, id string, report IssueReport) (err error) {
	defer func() { svc.observe(EventDisputed, err) }()

	report.Message = core.CleanString(report.Message)
	if err = svc.validate.Struct(report); err != nil {
		return err
	}
	s, err := svc.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if !s.Owner.IsHeldBy(caller.ID) {
		return ErrForbidden
	}
	if s.Status != StatusSuccessful {
		return ErrDisputeNotAllowed
	}
	svc.notifier.Notify(ctx, EventDisputed, s, caller, report.Message)
	return nil
}

// Get returns a session visible to caller: its parties and admins.
func (svc *Service) Get(ctx context.Context, caller user.Identity, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}
	s, err := svc.repo.GetSession(ctx, id, false)
	if err != nil {
		return Session{}, err
	}
	if !s.IsParty(caller.ID) && !caller.IsAdmin() {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// List returns the sessions caller takes part in. Admins see every session matching filter.
func (svc *Service) List(ctx context.Context, caller user.Identity, filter QueryFilter) ([]Session, error) {
	if !caller.IsAdmin() {
		filter.PartyID = caller.ID
	}
	return svc.repo.QuerySessions(ctx, filter)
}

// SetAvailability replaces the caller's windows for a date.
func (svc *Service) SetAvailability(ctx context.Context, caller user.Identity, req SetAvailability) (Availability, error) {
	if !caller.IsTutor() {
		return Availability{}, ErrForbidden
	}
	req.Date = core.CleanString(req.Date)
	for i := range req.Windows {
		req.Windows[i].Start = core.CleanString(req.Windows[i].Start)
		req.Windows[i].End = core.CleanString(req.Windows[i].End)
	}
	if err := svc.validate.Struct(req); err != nil {
		return Availability{}, err
	}
	if err := checkWindows(req.Windows); err != nil {
		return Availability{}, err
	}

	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		return svc.repo.ReplaceAvailability(ctx, caller.ID, req.Date, req.Windows, exec)
	})
	if err != nil {
		return Availability{}, errors.Wrap(err, "replacing availability")
	}
	return Availability{TutorID: caller.ID, Date: req.Date, Windows: req.Windows, Slots: Slots(req.Windows)}, nil
}

// GetAvailability returns a tutor's windows and bookable slots for a date.
func (svc *Service) GetAvailability(ctx context.Context, tutorID, date string) (Availability, error) {
	if _, err := time.Parse(core.DateLayout, date); err != nil {
		return Availability{}, core.NewValidationError(err, core.FieldError{Field: "date", Error: "date must be formatted as YYYY-MM-DD"})
	}
	windows, err := svc.repo.GetAvailability(ctx, tutorID, date)
	if err != nil {
		return Availability{}, errors.Wrap(err, "getting availability")
	}
	if windows == nil {
		windows = []Window{}
	}
	return Availability{TutorID: tutorID, Date: date, Windows: windows, Slots: Slots(windows)}, nil
}

type mutation struct {
	event   Event
	caller  user.Identity
	id      string
	key     string
	request interface{}
	note    string
	silent  bool // no notification
	apply   func(exec core.DBExecutor, s *Session, now time.Time) error
}

type keyedRequest struct {
	SessionID string      `json:"session_id"`
	Body      interface{} `json:"body,omitempty"`
}

func (svc *Service) run(ctx context.Context, m mutation) (Session, error) {
	sess, _, err := svc.mutate(ctx, m)
	return sess, err
}

// mutate loads the session locked, applies m and writes it back with a compare-and-set on its status,
// all in one transaction. The counter-party is notified after commit unless the call was a replay.
func (svc *Service) mutate(ctx context.Context, m mutation) (sess Session, replayed bool, err error) {
	defer func() { svc.observe(m.event, err) }()

	if _, err = uuid.Parse(m.id); err != nil {
		return Session{}, false, ErrNotFound
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		scope := idempotency.Scope{
			OwnerID:   m.caller.ID,
			Key:       m.key,
			Operation: string(m.event),
			Request:   keyedRequest{SessionID: m.id, Body: m.request},
		}
		replayed, err = svc.guard.Run(ctx, exec, scope, &sess, func() (interface{}, error) {
			s, err := svc.repo.GetSession(ctx, m.id, true, exec)
			if err != nil {
				return nil, err
			}
			if !s.IsParty(m.caller.ID) {
				return nil, ErrNotFound
			}

			now := NowFunc().UTC()
			expected := s.Status
			if err = m.apply(exec, &s, now); err != nil {
				return nil, err
			}
			s.UpdatedAt = now
			if sess, err = svc.repo.UpdateSession(ctx, s, expected, exec); err != nil {
				return nil, err
			}
			return sess, nil
		})
		return err
	})
	if err != nil {
		return Session{}, false, err
	}

	if !replayed && !m.silent {
		svc.notifier.Notify(ctx, m.event, sess, m.caller, m.note)
	}
	return sess, replayed, nil
}

func (svc *Service) refund(ctx context.Context, exec core.DBExecutor, s Session) error {
	_, err := svc.ledger.Credit(ctx, exec, s.Owner.FundedBy(), s.CreditsRequired, ledger.KindRefund, s.ID)
	return err
}

func (svc *Service) payTutor(ctx context.Context, exec core.DBExecutor, s Session) error {
	_, err := svc.ledger.Credit(ctx, exec, s.TutorID, s.CreditsRequired, ledger.KindTutorEarning, s.ID)
	return err
}

func (svc *Service) bookingOwner(ctx context.Context, caller user.Identity, schoolID string) (Owner, error) {
	if schoolID == "" {
		if !caller.IsStudent() {
			return nil, ErrForbidden
		}
		return StudentOwner{StudentID: caller.ID}, nil
	}

	school, err := svc.users.GetSchool(ctx, schoolID)
	if err != nil {
		if errors.Cause(err) == user.ErrSchoolNotFound {
			return nil, core.NewValidationError(err, core.FieldError{Field: "school_id", Error: err.Error()})
		}
		return nil, errors.Wrap(err, "getting school")
	}
	if school.PrincipalID != caller.ID {
		return nil, ErrForbidden
	}
	return SchoolOwner{SchoolID: school.ID, PrincipalID: school.PrincipalID}, nil
}

func (svc *Service) checkTutor(ctx context.Context, caller user.Identity, tutorID string) error {
	invalid := func(msg string) error {
		return core.NewValidationError(nil, core.FieldError{Field: "tutor_id", Error: msg})
	}
	if tutorID == caller.ID {
		return invalid("you cannot book a session with yourself")
	}
	tutor, err := svc.users.GetByID(ctx, tutorID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return invalid("tutor not found")
		}
		return errors.Wrap(err, "getting tutor")
	}
	if !tutor.IsActive || !tutor.IsTutor() {
		return invalid("tutor not found")
	}
	return nil
}

func (svc *Service) observe(ev Event, err error) {
	svc.metrics.ObserveOperation(string(ev), Outcome(err))
}

// Outcome classifies the result of an operation for metrics.
func Outcome(err error) string {
	switch cause := errors.Cause(err); {
	case err == nil:
		return "ok"
	case cause == ErrForbidden || cause == ErrNotFound:
		return "denied"
	case cause == ledger.ErrInsufficientCredits:
		return "insufficient_credits"
	case cause == idempotency.ErrKeyReused:
		return "key_reused"
	case IsConflict(err):
		return "conflict"
	case core.IsValidationError(err):
		return "invalid"
	default:
		if _, ok := cause.(validator.ValidationErrors); ok {
			return "invalid"
		}
		return "error"
	}
}

// startAt reads a wall-clock date and time in the booking time zone. The result must lie after now.
func (p Policy) startAt(date, clock string, now time.Time) (time.Time, error) {
	start, err := time.ParseInLocation(core.DateLayout+" "+core.ClockLayout, date+" "+clock, p.Location)
	if err != nil {
		return time.Time{}, core.NewValidationError(err, core.FieldError{Field: "time", Error: "invalid date or time"})
	}
	start = start.UTC()
	if !start.After(now) {
		return time.Time{}, core.NewValidationError(nil, core.FieldError{Field: "time", Error: "session must start in the future"})
	}
	return start, nil
}

func (p Policy) checkNotice(start, now time.Time) error {
	if !now.Before(start) {
		return ErrSessionStarted
	}
	left := start.Sub(now)
	if left < time.Duration(p.NoticeHours)*time.Hour {
		return &NoticeError{RequiredHours: p.NoticeHours, HoursRemaining: left.Hours()}
	}
	return nil
}

func ownerRole(o Owner) string {
	if o.Kind() == OwnerSchool {
		return "principal"
	}
	return "student"
}
