package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/tutorly/storage/database"
)

var gooseRunFunc = database.Run // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose command (up, up-to, down, down-to, redo, reset, status, version)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return gooseRunFunc(cli.db, args[0], args[1:]...)
		},
	}
}
