package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/tutorly/apps/api/echo"
	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/notify"
	"github.com/trezcool/tutorly/core/user"
	emailsvc "github.com/trezcool/tutorly/services/email"
	logsvc "github.com/trezcool/tutorly/services/logger"
	"github.com/trezcool/tutorly/services/metrics"
	"github.com/trezcool/tutorly/services/storage"
	"github.com/trezcool/tutorly/storage/database"
	inmemdb "github.com/trezcool/tutorly/storage/database/inmem"
	sqlxrepos "github.com/trezcool/tutorly/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// DBParam holds the SQL database, absent when running on the in-memory store.
type DBParam struct {
	dig.In
	DB *sqlx.DB `optional:"true"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	booking.InitValidators(validate, translator)
	return validate
}

func newMetricsRecorder(p *metrics.Prometheus) core.MetricsRecorder {
	return p
}

type repositories struct {
	dig.Out

	Users       user.Repository
	Sessions    booking.Repository
	Ledger      ledger.Repository
	Keys        idempotency.Repository
	Attachments attachment.Repository
}

func newSQLRepositories(db *sqlx.DB) repositories {
	return repositories{
		Users:       sqlxrepos.NewUserRepository(db),
		Sessions:    sqlxrepos.NewSessionRepository(db),
		Ledger:      sqlxrepos.NewLedgerRepository(db),
		Keys:        sqlxrepos.NewIdempotencyRepository(db),
		Attachments: sqlxrepos.NewAttachmentRepository(db),
	}
}

func newInmemRepositories(db *inmemdb.DB) (repositories, core.Transactor) {
	return repositories{
		Users:       inmemdb.NewUserRepository(db),
		Sessions:    inmemdb.NewSessionRepository(db),
		Ledger:      inmemdb.NewLedgerRepository(db),
		Keys:        inmemdb.NewIdempotencyRepository(db),
		Attachments: inmemdb.NewAttachmentRepository(db),
	}, db
}

func newDispatcher(conf *core.Config, users *user.Service, mailer core.EmailService, logger core.Logger, recorder core.MetricsRecorder) *notify.Dispatcher {
	return notify.NewDispatcher(conf, users, mailer, logger, recorder)
}

type bookingParams struct {
	dig.In

	Conf       *core.Config
	Repo       booking.Repository
	Keys       idempotency.Repository
	Users      *user.Service
	Ledger     *ledger.Service
	Tx         core.Transactor
	Validate   *validator.Validate
	Dispatcher *notify.Dispatcher
	Metrics    core.MetricsRecorder
}

func newBookingService(p bookingParams) *booking.Service {
	return booking.NewService(booking.Deps{
		Repo:     p.Repo,
		Users:    p.Users,
		Ledger:   p.Ledger,
		Guard:    idempotency.NewGuard(p.Keys),
		Tx:       p.Tx,
		Validate: p.Validate,
		Notifier: p.Dispatcher,
		Metrics:  p.Metrics,
		Policy:   booking.NewPolicy(p.Conf),
	})
}

func newAttachmentService(conf *core.Config, repo attachment.Repository, store attachment.ObjectStore, sessions *booking.Service) *attachment.Service {
	return attachment.NewService(conf, repo, store, sessions)
}

type serverParams struct {
	dig.In

	Conf          *core.Config
	Logger        core.Logger
	Validate      *validator.Validate
	Translator    ut.Translator
	Metrics       *metrics.Prometheus
	UserSvc       *user.Service
	PasswordReset *user.PasswordReset
	LedgerSvc     *ledger.Service
	BookingSvc    *booking.Service
	AttachmentSvc *attachment.Service
	Dispatcher    *notify.Dispatcher
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		Validate:      p.Validate,
		Translator:    p.Translator,
		Metrics:       p.Metrics,
		UserSvc:       p.UserSvc,
		PasswordReset: p.PasswordReset,
		LedgerSvc:     p.LedgerSvc,
		BookingSvc:    p.BookingSvc,
		AttachmentSvc: p.AttachmentSvc,
		Dispatcher:    p.Dispatcher,
	})
}

// New returns a new dependency injection dig.Container.
// With inmem set, every repository lives in memory and no database is touched.
func New(inmem bool) *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	if inmem {
		must(c.Provide(inmemdb.NewDB))
		must(c.Provide(newInmemRepositories))
	} else {
		must(c.Provide(newDB))
		must(c.Provide(core.NewTransactor))
		must(c.Provide(newSQLRepositories))
	}
	must(c.Provide(newEmailService))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(metrics.NewPrometheus))
	must(c.Provide(newMetricsRecorder))
	must(c.Provide(storage.NewObjectStore))

	must(c.Provide(user.NewService))
	must(c.Provide(user.NewPasswordReset))
	must(c.Provide(ledger.NewService))
	must(c.Provide(newDispatcher))
	must(c.Provide(newBookingService))
	must(c.Provide(newAttachmentService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
