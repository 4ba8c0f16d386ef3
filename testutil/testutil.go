// Package testutil wires the services on the in-memory database for tests.
package testutil

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/notify"
	"github.com/trezcool/tutorly/core/user"
	appfs "github.com/trezcool/tutorly/fs"
	emailsvc "github.com/trezcool/tutorly/services/email"
	logsvc "github.com/trezcool/tutorly/services/logger"
	inmemdb "github.com/trezcool/tutorly/storage/database/inmem"
)

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidator returns a validator with every custom tag and translation registered.
func NewValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	booking.InitValidators(validate, translator)
	return validate
}

func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// Env holds every service of the application on top of one in-memory database.
type Env struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *inmemdb.DB
	Validate   *validator.Validate
	Translator ut.Translator

	UserRepo   user.Repository
	LedgerRepo ledger.Repository

	Users       *user.Service
	Resets      *user.PasswordReset
	Ledger      *ledger.Service
	Booking     *booking.Service
	Attachments *attachment.Service
	Dispatcher  *notify.Dispatcher

	Notifier *NotifierRecorder
	Mailer   *emailsvc.ConsoleServiceMock
	Store    *ObjectStoreMock
	Metrics  *MetricsRecorder
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	conf := core.NewTestConfig()
	logger := NewLogger(conf)
	core.ParseEmailTemplates(appfs.FS, conf, logger)

	translator := NewTranslator()
	env := &Env{
		Conf:       conf,
		Logger:     logger,
		DB:         inmemdb.NewDB(),
		Validate:   NewValidator(translator),
		Translator: translator,
		Mailer:     emailsvc.NewConsoleServiceMock(conf, logger),
		Store:      NewObjectStoreMock(),
		Metrics:    NewMetricsRecorder(),
	}
	env.UserRepo = inmemdb.NewUserRepository(env.DB)
	env.LedgerRepo = inmemdb.NewLedgerRepository(env.DB)

	env.Users = user.NewService(env.UserRepo)
	env.Resets = user.NewPasswordReset(conf, env.Users, env.Mailer, env.Validate)
	env.Ledger = ledger.NewService(env.LedgerRepo, env.DB, env.Validate, env.Metrics)
	env.Dispatcher = notify.NewDispatcher(conf, env.Users, env.Mailer, logger, env.Metrics)
	env.Notifier = &NotifierRecorder{next: env.Dispatcher}
	env.Booking = booking.NewService(booking.Deps{
		Repo:     inmemdb.NewSessionRepository(env.DB),
		Users:    env.Users,
		Ledger:   env.Ledger,
		Guard:    idempotency.NewGuard(inmemdb.NewIdempotencyRepository(env.DB)),
		Tx:       env.DB,
		Validate: env.Validate,
		Notifier: env.Notifier,
		Metrics:  env.Metrics,
		Policy:   booking.NewPolicy(conf),
	})
	env.Attachments = attachment.NewService(conf, inmemdb.NewAttachmentRepository(env.DB), env.Store, env.Booking)
	return env
}

// SetNow freezes the clock of the booking and ledger services until the test ends.
func SetNow(t *testing.T, now time.Time) {
	t.Helper()
	prevBooking, prevLedger := booking.NowFunc, ledger.NowFunc
	booking.NowFunc = func() time.Time { return now }
	ledger.NowFunc = func() time.Time { return now }
	t.Cleanup(func() {
		booking.NowFunc, ledger.NowFunc = prevBooking, prevLedger
	})
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateRoleUser creates an active user named after uname with a single role.
func CreateRoleUser(t *testing.T, repo user.Repository, uname, role string) user.User {
	t.Helper()
	return CreateUser(t, repo, uname, uname, uname+"@example.com", "", []string{role}, true)
}

func CreateSchool(t *testing.T, repo user.Repository, name string, principal user.User) user.School {
	t.Helper()
	school, err := repo.CreateSchool(context.Background(), user.School{Name: name, PrincipalID: principal.ID, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("createSchool() failed: %v", err)
	}
	return school
}

// Fund credits ownerID through a stripe purchase.
func Fund(t *testing.T, svc *ledger.Service, ownerID string, credits int) ledger.Entry {
	t.Helper()
	entry, _, err := svc.Purchase(context.Background(), ledger.Purchase{
		OwnerID:    ownerID,
		Credits:    credits,
		Gateway:    "stripe",
		PaymentRef: "pi_" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("fund() failed: %v", err)
	}
	return entry
}

func Balance(t *testing.T, svc *ledger.Service, ownerID string) int {
	t.Helper()
	acc, err := svc.Balance(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("balance() failed: %v", err)
	}
	return acc.Balance
}

// Notified is one recorded booking notification.
type Notified struct {
	Event     booking.Event
	SessionID string
	ActorID   string
	Note      string
}

// NotifierRecorder records notifications before handing them to the real dispatcher.
type NotifierRecorder struct {
	next booking.Notifier

	mu     sync.Mutex
	events []Notified
}

func (n *NotifierRecorder) Notify(ctx context.Context, ev booking.Event, s booking.Session, actor user.Identity, note string) {
	n.mu.Lock()
	n.events = append(n.events, Notified{Event: ev, SessionID: s.ID, ActorID: actor.ID, Note: note})
	n.mu.Unlock()
	if n.next != nil {
		n.next.Notify(ctx, ev, s, actor, note)
	}
}

func (n *NotifierRecorder) Events() []Notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notified(nil), n.events...)
}

func (n *NotifierRecorder) Reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

// ObjectStoreMock keeps objects in memory.
type ObjectStoreMock struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

var _ attachment.ObjectStore = (*ObjectStoreMock)(nil)

func NewObjectStoreMock() *ObjectStoreMock {
	return &ObjectStoreMock{Objects: make(map[string][]byte)}
}

func (s *ObjectStoreMock) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.Objects[key] = data
	s.mu.Unlock()
	return "https://objects.test/" + key, nil
}

// MetricsRecorder counts observations in memory.
type MetricsRecorder struct {
	mu            sync.Mutex
	Operations    map[string]int // {operation/outcome: count}
	LedgerEntries map[string]int // {kind: count}
	Notifications map[string]int // {kind/delivered: count}
}

var _ core.MetricsRecorder = (*MetricsRecorder)(nil)

func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{
		Operations:    make(map[string]int),
		LedgerEntries: make(map[string]int),
		Notifications: make(map[string]int),
	}
}

func (m *MetricsRecorder) ObserveOperation(operation, outcome string) {
	m.mu.Lock()
	m.Operations[operation+"/"+outcome]++
	m.mu.Unlock()
}

func (m *MetricsRecorder) ObserveLedgerEntry(kind string, _ int) {
	m.mu.Lock()
	m.LedgerEntries[kind]++
	m.mu.Unlock()
}

func (m *MetricsRecorder) ObserveNotification(kind string, delivered bool) {
	m.mu.Lock()
	if delivered {
		m.Notifications[kind+"/sent"]++
	} else {
		m.Notifications[kind+"/failed"]++
	}
	m.mu.Unlock()
}

func (m *MetricsRecorder) Operation(operation, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Operations[operation+"/"+outcome]
}
