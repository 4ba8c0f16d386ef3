package main

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/user"
)

const openingBalanceNote = "opening balance"

type (
	fixtures struct {
		Users        []userFixture         `toml:"users"`
		Schools      []schoolFixture       `toml:"schools"`
		Availability []availabilityFixture `toml:"availability"`
		Balances     []balanceFixture      `toml:"balances"`
	}

	userFixture struct {
		Username string   `toml:"username"`
		Name     string   `toml:"name"`
		Email    string   `toml:"email"`
		Password string   `toml:"password"`
		Roles    []string `toml:"roles"`
	}

	schoolFixture struct {
		Name      string `toml:"name"`
		Principal string `toml:"principal"` // username or email
	}

	availabilityFixture struct {
		Tutor   string          `toml:"tutor"`
		Date    string          `toml:"date"`
		Windows []windowFixture `toml:"windows"`
	}

	windowFixture struct {
		Start string `toml:"start"`
		End   string `toml:"end"`
	}

	balanceFixture struct {
		Owner   string `toml:"owner"`
		Credits int    `toml:"credits"`
	}
)

func (cli *commandLine) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed -f FILE",
		Short: "Load users, schools, availability and opening balances from a TOML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fx fixtures
			if _, err := toml.DecodeFile(file, &fx); err != nil {
				return errors.Wrapf(err, "reading %s", file)
			}
			return cli.seed(cmd.Context(), fx)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixtures file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// seed loads fx. Users are upserted and balances topped up to their target, so files can be replayed;
// schools are always created.
func (cli *commandLine) seed(ctx context.Context, fx fixtures) error {
	for _, u := range fx.Users {
		if u.Password == "" {
			return fmt.Errorf("user %q: password is required", u.Username)
		}
		if _, err := cli.addUser(ctx, u.Username, u.Email, u.Name, u.Password, u.Roles); err != nil {
			return errors.Wrapf(err, "user %q", u.Username)
		}
	}
	for _, s := range fx.Schools {
		principal, err := cli.usrSvc.GetByUsernameOrEmail(ctx, s.Principal)
		if err != nil {
			return errors.Wrapf(err, "school %q: principal %q", s.Name, s.Principal)
		}
		if _, err = cli.usrSvc.CreateSchool(ctx, user.NewSchool{Name: s.Name, PrincipalID: principal.ID}); err != nil {
			return errors.Wrapf(err, "school %q", s.Name)
		}
	}
	for _, a := range fx.Availability {
		tutor, err := cli.usrSvc.GetByUsernameOrEmail(ctx, a.Tutor)
		if err != nil {
			return errors.Wrapf(err, "availability: tutor %q", a.Tutor)
		}
		req := booking.SetAvailability{Date: a.Date}
		for _, w := range a.Windows {
			req.Windows = append(req.Windows, booking.Window{Start: w.Start, End: w.End})
		}
		if _, err = cli.booking.SetAvailability(ctx, tutor.Identity(), req); err != nil {
			return errors.Wrapf(err, "availability of %q on %s", a.Tutor, a.Date)
		}
	}
	for _, b := range fx.Balances {
		owner, err := cli.usrSvc.GetByUsernameOrEmail(ctx, b.Owner)
		if err != nil {
			return errors.Wrapf(err, "balance: owner %q", b.Owner)
		}
		acc, err := cli.ledger.Balance(ctx, owner.ID)
		if err != nil {
			return err
		}
		if diff := b.Credits - acc.Balance; diff != 0 {
			if _, err = cli.ledger.Adjust(ctx, ledger.Adjustment{OwnerID: owner.ID, Amount: diff, Note: openingBalanceNote}); err != nil {
				return errors.Wrapf(err, "balance of %q", b.Owner)
			}
		}
	}

	cli.printf("seeded %d users, %d schools, %d availability days, %d balances\n",
		len(fx.Users), len(fx.Schools), len(fx.Availability), len(fx.Balances))
	return nil
}
