package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
)

var readPasswordFunc = term.ReadPassword // mockable

type commandLine struct {
	db       *sql.DB
	usrRepo  user.Repository
	usrSvc   *user.Service
	ledger   *ledger.Service
	booking  *booking.Service
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	return root.Execute()
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Tutorly administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.migrateCmd(),
		cli.seedCmd(),
		cli.creditsCmd(),
		cli.ledgerCmd(),
	)
	return root
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	cli.printf("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// silentNotifier drops notifications: changes made from the command line are not announced.
type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, booking.Event, booking.Session, user.Identity, string) {}
