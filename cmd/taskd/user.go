// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/holomush/taskd/internal/auth"
)

// minPasswordLength matches the API's registration rule.
const minPasswordLength = 8

// Terminal seams; tests replace them.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// NewUserCmd creates the user command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Account administration",
	}
	cmd.AddCommand(newUserAddCmd(nil))
	return cmd
}

type userAddOptions struct {
	email     string
	firstName string
	lastName  string
	phone     string
}

func newUserAddCmd(connect connectFunc) *cobra.Command {
	opts := &userAddOptions{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Long: `Create an account. The password is prompted for on a terminal, or
read from the first line of standard input otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg, "user add"); err != nil {
				return err
			}

			password, err := promptPassword(cmd)
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg, logger, connect)
			if err != nil {
				return err
			}
			defer b.close()

			svc, err := newService(cfg, b, logger, nil)
			if err != nil {
				return err
			}

			in := auth.RegisterInput{
				Email:     opts.email,
				Password:  password,
				FirstName: opts.firstName,
				LastName:  opts.lastName,
			}
			if opts.phone != "" {
				in.PhoneNumber = &opts.phone
			}
			user, err := svc.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			cmd.Printf("Created user %s (%s)\n", user.ID, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.firstName, "first-name", "", "first name (required)")
	cmd.Flags().StringVar(&opts.lastName, "last-name", "", "last name (required)")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "phone number")
	for _, name := range []string{"email", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flag is defined above
	}
	return cmd
}

// promptPassword reads a new password. On a terminal it asks twice without
// echo; otherwise it reads one line from the command's input.
func promptPassword(cmd *cobra.Command) (string, error) {
	var password string
	if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(int(f.Fd())) {
		first, err := readTerminalPassword(cmd, f, "Password: ")
		if err != nil {
			return "", err
		}
		second, err := readTerminalPassword(cmd, f, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", oops.Code(auth.CodeValidation).With("field", "confirmPassword").Errorf("passwords do not match")
		}
		password = first
	} else {
		line, err := readInputLine(cmd)
		if err != nil {
			return "", err
		}
		password = line
	}

	if len(password) < minPasswordLength {
		return "", oops.Code(auth.CodeValidation).
			With("field", "password").
			Errorf("password must be at least %d characters", minPasswordLength)
	}
	return password, nil
}

func readTerminalPassword(cmd *cobra.Command, f *os.File, prompt string) (string, error) {
	cmd.PrintErr(prompt)
	pw, err := readPassword(int(f.Fd()))
	cmd.PrintErrln()
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return string(pw), nil
}

// readInputLine reads one line from the command's input without its line ending.
func readInputLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
