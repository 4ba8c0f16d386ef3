// Package notify tells users about what happened to their sessions and credits, by email.
// Delivery is best effort: failures are logged and counted, never returned.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
)

type Kind string

const (
	KindSessionRequested   = Kind(booking.EventRequested)
	KindSessionAccepted    = Kind(booking.EventAccepted)
	KindSessionRejected    = Kind(booking.EventRejected)
	KindSessionCancelled   = Kind(booking.EventCancelled)
	KindSessionRescheduled = Kind(booking.EventRescheduled)
	KindSessionSuccessful  = Kind(booking.EventSuccessful)
	KindTutorNoShow        = Kind(booking.EventTutorNoShow)
	KindStudentNoShow      = Kind(booking.EventStudentNoShow)
	KindDisputeReported    = Kind(booking.EventDisputed)
	KindCreditsPurchased   = Kind("credits-purchased")
)

var subjects = map[Kind]string{
	KindSessionRequested:   "New session request",
	KindSessionAccepted:    "Your session was accepted",
	KindSessionRejected:    "Your session was declined",
	KindSessionCancelled:   "A session was cancelled",
	KindSessionRescheduled: "A session was rescheduled",
	KindSessionSuccessful:  "Your session was marked successful",
	KindTutorNoShow:        "No-show reported",
	KindStudentNoShow:      "No-show reported",
	KindDisputeReported:    "Session dispute",
	KindCreditsPurchased:   "Credits added to your balance",
}

// Data is what every email template receives under .Data.
type Data struct {
	RecipientName   string
	ActorName       string
	SessionID       string
	Subject         string
	StartAt         string
	DurationMinutes int
	Credits         int
	MeetingLink     string
	Note            string
	SessionURL      string
	Balance         int
}

// Directory resolves the contact details of a user.
type Directory interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type Dispatcher struct {
	users      Directory
	mailer     core.EmailService
	adminEmail mail.Address
	baseURL    string
	location   *time.Location
	logger     core.Logger
	metrics    core.MetricsRecorder
}

var _ booking.Notifier = (*Dispatcher)(nil)

func NewDispatcher(conf *core.Config, users Directory, mailer core.EmailService, logger core.Logger, metrics core.MetricsRecorder) *Dispatcher {
	return &Dispatcher{
		users:      users,
		mailer:     mailer,
		adminEmail: conf.AdminEmail,
		baseURL:    strings.TrimSuffix(conf.FrontendBaseURL, "/"),
		location:   conf.Booking.Location(),
		logger:     logger,
		metrics:    metrics,
	}
}

// Send hands one templated email to the mailer.
func (d *Dispatcher) Send(kind Kind, recipient mail.Address, data Data) {
	d.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{recipient},
		Subject:      subjects[kind],
		TemplateName: string(kind),
		TemplateData: data,
	})
	d.metrics.ObserveNotification(string(kind), true)
}

// Notify emails the counter-party of actor about ev. Disputes go to the admin mailbox.
func (d *Dispatcher) Notify(ctx context.Context, ev booking.Event, s booking.Session, actor user.Identity, note string) {
	kind := Kind(ev)
	if _, ok := subjects[kind]; !ok {
		return
	}

	data := Data{
		ActorName:       actor.Name,
		SessionID:       s.ID,
		Subject:         s.Subject,
		StartAt:         s.StartAt.In(d.location).Format("Mon 2 Jan 2006 15:04 MST"),
		DurationMinutes: s.DurationMinutes,
		Credits:         s.CreditsRequired,
		MeetingLink:     s.MeetingLink,
		Note:            note,
		SessionURL:      d.baseURL + "/sessions/" + s.ID,
	}

	if kind == KindDisputeReported {
		data.RecipientName = d.adminEmail.Name
		d.Send(kind, d.adminEmail, data)
		return
	}

	recipientID := s.TutorID
	if actor.ID == s.TutorID {
		recipientID = s.Owner.FundedBy()
	}
	recipient, err := d.users.GetByID(ctx, recipientID)
	if err != nil {
		d.fail(kind, errors.Wrapf(err, "resolving recipient %s", recipientID))
		return
	}
	data.RecipientName = recipient.Name
	d.Send(kind, mail.Address{Name: recipient.Name, Address: recipient.Email}, data)
}

// CreditsPurchased confirms a purchase to the account owner.
func (d *Dispatcher) CreditsPurchased(ctx context.Context, entry ledger.Entry) {
	owner, err := d.users.GetByID(ctx, entry.OwnerID)
	if err != nil {
		d.fail(KindCreditsPurchased, errors.Wrapf(err, "resolving owner %s", entry.OwnerID))
		return
	}
	d.Send(KindCreditsPurchased, mail.Address{Name: owner.Name, Address: owner.Email}, Data{
		RecipientName: owner.Name,
		Credits:       entry.Amount,
		Balance:       entry.BalanceAfter,
	})
}

func (d *Dispatcher) fail(kind Kind, err error) {
	d.logger.Error(fmt.Sprintf("notify.%s: %v", kind, err), err)
	d.metrics.ObserveNotification(string(kind), false)
}
