package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
	"github.com/trezcool/tutorly/storage/database"
	sqlxrepos "github.com/trezcool/tutorly/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// set up services
	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	booking.InitValidators(validate, translator)

	tx := core.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	ledgerSvc := ledger.NewService(sqlxrepos.NewLedgerRepository(db), tx, validate, core.NewNoopMetrics())

	// start CLI
	cli := &commandLine{
		db:       db.DB,
		usrRepo:  usrRepo,
		usrSvc:   usrSvc,
		ledger:   ledgerSvc,
		validate: validate,
		booking: booking.NewService(booking.Deps{
			Repo:     sqlxrepos.NewSessionRepository(db),
			Users:    usrSvc,
			Ledger:   ledgerSvc,
			Guard:    idempotency.NewGuard(sqlxrepos.NewIdempotencyRepository(db)),
			Tx:       tx,
			Validate: validate,
			Notifier: silentNotifier{},
			Metrics:  core.NewNoopMetrics(),
			Policy:   booking.NewPolicy(conf),
		}),
		out: os.Stdout,
	}
	if err = cli.run(os.Args[1:]); err != nil {
		logger.Printf("error: %v", err)
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
