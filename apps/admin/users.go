package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/user"
)

var errEmptyPassword = errors.New("password must not be empty")

func (cli *commandLine) addUserCmd() *cobra.Command {
	var name, email string
	var roles []string
	cmd := &cobra.Command{
		Use:   "adduser USERNAME",
		Short: "Create or update a user; the password is prompted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), args[0], email, name, pwd, roles)
			if err != nil {
				return err
			}
			cli.printf("user %s saved (%s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "full name, defaults to the username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "roles: admin, principal, tutor or student (repeatable)")
	return cmd
}

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(ctx context.Context, uname, email, name, pwd string, roles []string) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}
	fullRoles, err := parseRoles(roles)
	if err != nil {
		return user.User{}, err
	}

	now := time.Now().UTC()
	lookup := []string{uname}
	if email != "" {
		lookup = append(lookup, email)
	}
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		usr = user.User{Username: uname, Email: email, CreatedAt: now}
	}
	usr.Name = name
	if email != "" {
		usr.Email = email
	}
	if len(fullRoles) > 0 {
		usr.Roles = fullRoles
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if tag := user.PasswordPolicyViolation(pwd, usr.Name, usr.Username, usr.Email); tag != "" {
		return user.User{}, errors.New(user.PasswordPolicyText(tag))
	}
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	return cli.usrRepo.UpdateOrCreateUser(ctx, usr)
}

// parseRoles accepts role names with or without their trailing colon.
func parseRoles(names []string) ([]string, error) {
	var roles []string
	for _, name := range names {
		role := strings.ToLower(strings.TrimSpace(name))
		if !strings.HasSuffix(role, ":") {
			role += ":"
		}
		if user.RolePriority(role) == 0 {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetpassword USERNAME|EMAIL",
		Short: "Reset a user's password; the new password is prompted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			if err = cli.usrSvc.SetPassword(cmd.Context(), args[0], pwd); err != nil {
				return err
			}
			cli.printf("password updated\n")
			return nil
		},
	}
}
