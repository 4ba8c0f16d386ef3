package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/tutorly/core/ledger"
)

var errLedgerMismatch = errors.New("ledger verification failed")

func (cli *commandLine) creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Manage credit balances",
	}

	var note string
	grant := &cobra.Command{
		Use:   "grant USERNAME|EMAIL AMOUNT",
		Short: "Adjust a balance by AMOUNT credits; pass -- before a negative AMOUNT to take credits back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("amount must be a whole number (got %q)", args[1])
			}
			owner, err := cli.usrSvc.GetByUsernameOrEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entry, err := cli.ledger.Adjust(cmd.Context(), ledger.Adjustment{OwnerID: owner.ID, Amount: amount, Note: note})
			if err != nil {
				return err
			}
			cli.printf("%s: %+d credits, balance %d\n", owner.Username, entry.Amount, entry.BalanceAfter)
			return nil
		},
	}
	grant.Flags().StringVar(&note, "note", "granted by an administrator", "reason recorded on the ledger entry")

	cmd.AddCommand(grant)
	return cmd
}

func (cli *commandLine) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the credit ledger",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check every balance against the sum of its entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := cli.ledger.Verify(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range found {
				cli.printf("%s: balance %d, entries sum to %d\n", d.OwnerID, d.Balance, d.EntriesSum)
			}
			if len(found) > 0 {
				return errLedgerMismatch
			}
			cli.printf("ledger OK\n")
			return nil
		},
	})
	return cmd
}
