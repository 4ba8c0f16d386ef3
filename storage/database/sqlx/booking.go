package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
)

const sessionColumns = `id, student_id, school_id, funded_by, tutor_id, subject, start_at, duration_minutes,
	credits_required, status, meeting_link, cancel_reason, cancelled_by, refund_credits, cancelled_at,
	rescheduled_from, rescheduled_to, created_by, created_at, updated_at`

type sessionRow struct {
	ID              string      `db:"id"`
	StudentID       null.String `db:"student_id"`
	SchoolID        null.String `db:"school_id"`
	FundedBy        string      `db:"funded_by"`
	TutorID         string      `db:"tutor_id"`
	Subject         string      `db:"subject"`
	StartAt         time.Time   `db:"start_at"`
	DurationMinutes int         `db:"duration_minutes"`
	CreditsRequired int         `db:"credits_required"`
	Status          string      `db:"status"`
	MeetingLink     null.String `db:"meeting_link"`
	CancelReason    null.String `db:"cancel_reason"`
	CancelledBy     null.String `db:"cancelled_by"`
	RefundCredits   null.Int    `db:"refund_credits"`
	CancelledAt     null.Time   `db:"cancelled_at"`
	RescheduledFrom null.String `db:"rescheduled_from"`
	RescheduledTo   null.String `db:"rescheduled_to"`
	CreatedBy       string      `db:"created_by"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

type windowRow struct {
	Start string `db:"start_time"`
	End   string `db:"end_time"`
}

type sessionRepository struct {
	repository
}

var _ booking.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(exec core.DBExecutor) booking.Repository {
	return &sessionRepository{repository{exec: exec}}
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (repo sessionRepository) toRow(s booking.Session) sessionRow {
	row := sessionRow{
		ID:              s.ID,
		FundedBy:        s.Owner.FundedBy(),
		TutorID:         s.TutorID,
		Subject:         s.Subject,
		StartAt:         s.StartAt.UTC(),
		DurationMinutes: s.DurationMinutes,
		CreditsRequired: s.CreditsRequired,
		Status:          string(s.Status),
		MeetingLink:     nullString(s.MeetingLink),
		RescheduledFrom: nullString(s.RescheduledFrom),
		RescheduledTo:   nullString(s.RescheduledTo),
		CreatedBy:       s.CreatedBy,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
	switch o := s.Owner.(type) {
	case booking.StudentOwner:
		row.StudentID = nullString(o.StudentID)
	case booking.SchoolOwner:
		row.SchoolID = nullString(o.SchoolID)
	}
	if c := s.Cancellation; c != nil {
		row.CancelReason = null.StringFrom(c.Reason)
		row.CancelledBy = null.StringFrom(c.By)
		row.RefundCredits = null.IntFrom(c.RefundCredits)
		row.CancelledAt = null.TimeFrom(c.At.UTC())
	}
	return row
}

func (repo sessionRepository) fromRow(row sessionRow) booking.Session {
	s := booking.Session{
		ID:              row.ID,
		Owner:           booking.NewOwner(row.StudentID.String, row.SchoolID.String, row.FundedBy),
		TutorID:         row.TutorID,
		Subject:         row.Subject,
		StartAt:         row.StartAt.UTC(),
		DurationMinutes: row.DurationMinutes,
		CreditsRequired: row.CreditsRequired,
		Status:          booking.Status(row.Status),
		MeetingLink:     row.MeetingLink.String,
		RescheduledFrom: row.RescheduledFrom.String,
		RescheduledTo:   row.RescheduledTo.String,
		CreatedBy:       row.CreatedBy,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if row.CancelledAt.Valid {
		s.Cancellation = &booking.Cancellation{
			Reason:        row.CancelReason.String,
			By:            row.CancelledBy.String,
			RefundCredits: row.RefundCredits.Int,
			At:            row.CancelledAt.Time.UTC(),
		}
	}
	return s
}

func (repo sessionRepository) CreateSession(ctx context.Context, s booking.Session, exec ...core.DBExecutor) (booking.Session, error) {
	q := `INSERT INTO session (` + sessionColumns + `) VALUES (
		:id, :student_id, :school_id, :funded_by, :tutor_id, :subject, :start_at, :duration_minutes,
		:credits_required, :status, :meeting_link, :cancel_reason, :cancelled_by, :refund_credits, :cancelled_at,
		:rescheduled_from, :rescheduled_to, :created_by, :created_at, :updated_at)`
	if _, err := repo.getExec(exec).NamedExecContext(ctx, q, repo.toRow(s)); err != nil {
		return booking.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo sessionRepository) GetSession(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (booking.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM session WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	var row sessionRow
	if err := repo.getExec(exec).GetContext(ctx, &row, q, id); err != nil {
		return booking.Session{}, trapNoRowsErr(err, booking.ErrNotFound, "getting session")
	}
	return repo.fromRow(row), nil
}

// UpdateSession is a compare-and-set on the status column.
func (repo sessionRepository) UpdateSession(ctx context.Context, s booking.Session, expected booking.Status, exec ...core.DBExecutor) (booking.Session, error) {
	row := repo.toRow(s)
	q := `UPDATE session SET
		status = $3, meeting_link = $4, cancel_reason = $5, cancelled_by = $6, refund_credits = $7,
		cancelled_at = $8, rescheduled_to = $9, updated_at = $10
		WHERE id = $1 AND status = $2`
	res, err := repo.getExec(exec).ExecContext(ctx, q,
		row.ID, string(expected), row.Status, row.MeetingLink, row.CancelReason, row.CancelledBy,
		row.RefundCredits, row.CancelledAt, row.RescheduledTo, row.UpdatedAt)
	if err != nil {
		return booking.Session{}, errors.Wrap(err, "updating session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return booking.Session{}, errors.Wrap(err, "updating session")
	}
	if n == 0 {
		if _, err = repo.GetSession(ctx, s.ID, false, exec...); err != nil {
			return booking.Session{}, err
		}
		return booking.Session{}, booking.ErrStatusChanged
	}
	return s, nil
}

func (repo sessionRepository) QuerySessions(ctx context.Context, filter booking.QueryFilter, exec ...core.DBExecutor) ([]booking.Session, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.PartyID != "" {
		p := arg(filter.PartyID)
		where = append(where, fmt.Sprintf("(tutor_id = %[1]s OR student_id = %[1]s OR (school_id IS NOT NULL AND funded_by = %[1]s))", p))
	}
	if filter.TutorID != "" {
		where = append(where, "tutor_id = "+arg(filter.TutorID))
	}
	if filter.FundedBy != "" {
		where = append(where, "funded_by = "+arg(filter.FundedBy))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if !filter.StartFrom.IsZero() {
		where = append(where, "start_at >= "+arg(filter.StartFrom.UTC()))
	}
	if !filter.StartTo.IsZero() {
		where = append(where, "start_at <= "+arg(filter.StartTo.UTC()))
	}

	q := `SELECT ` + sessionColumns + ` FROM session`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_at DESC, id"

	var rows []sessionRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]booking.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, repo.fromRow(row))
	}
	return sessions, nil
}

func (repo sessionRepository) GetAvailability(ctx context.Context, tutorID, date string, exec ...core.DBExecutor) ([]booking.Window, error) {
	var rows []windowRow
	q := `SELECT start_time, end_time FROM tutor_availability WHERE tutor_id = $1 AND available_on = $2 ORDER BY start_time`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, tutorID, date); err != nil {
		return nil, errors.Wrap(err, "querying availability")
	}
	windows := make([]booking.Window, 0, len(rows))
	for _, row := range rows {
		windows = append(windows, booking.Window{Start: row.Start, End: row.End})
	}
	return windows, nil
}

func (repo sessionRepository) ReplaceAvailability(ctx context.Context, tutorID, date string, windows []booking.Window, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := exe.ExecContext(ctx, `DELETE FROM tutor_availability WHERE tutor_id = $1 AND available_on = $2`, tutorID, date); err != nil {
		return errors.Wrap(err, "deleting availability")
	}
	for _, w := range windows {
		q := `INSERT INTO tutor_availability (tutor_id, available_on, start_time, end_time) VALUES ($1, $2, $3, $4)`
		if _, err := exe.ExecContext(ctx, q, tutorID, date, w.Start, w.End); err != nil {
			return errors.Wrap(err, "inserting availability")
		}
	}
	return nil
}
