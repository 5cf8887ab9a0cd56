// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/taskd/internal/xdg"
	"github.com/holomush/taskd/pkg/authclient"
	"github.com/holomush/taskd/pkg/sessionguard"
	"github.com/holomush/taskd/pkg/sessionguard/boltstore"
)

const defaultServerURL = "http://127.0.0.1:8080"

type clientOptions struct {
	server      string
	sessionFile string
}

// NewClientCmd creates the client command group, which talks to a running
// server and keeps its session in a local file.
func NewClientCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Log in to a taskd server and inspect the session",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", defaultServerURL, "server base URL")
	cmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", "",
		"session file (default $XDG_STATE_HOME/taskd/session.db)")

	cmd.AddCommand(newClientLoginCmd(opts))
	cmd.AddCommand(newClientWhoamiCmd(opts))
	cmd.AddCommand(newClientLogoutCmd(opts))
	return cmd
}

func newClientLoginCmd(opts *clientOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := promptLoginPassword(cmd)
			if err != nil {
				return err
			}
			client, store, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore(cmd, store)

			result, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := store.Save(cmd.Context(), result.Credentials); err != nil {
				return err
			}
			cmd.Printf("Logged in as %s\n", result.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func newClientWhoamiCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user, refreshing the session if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, store, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore(cmd, store)

			guard, err := sessionguard.New(client, store)
			if err != nil {
				return err
			}
			if !guard.Validate(cmd.Context()) {
				return oops.Code("NOT_LOGGED_IN").Errorf("no valid session; run taskd client login")
			}

			creds, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			user, err := client.Session(cmd.Context(), creds.AccessToken)
			if err != nil {
				return err
			}
			cmd.Printf("%s %s <%s>\n", user.FirstName, user.LastName, user.Email)
			if left, ok := guard.TimeUntilExpiration(); ok {
				cmd.Printf("Access token expires in %s\n", left.Round(time.Second))
			}
			return nil
		},
	}
}

func newClientLogoutCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove it from the session file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, store, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore(cmd, store)

			creds, err := store.Load(cmd.Context())
			if errors.Is(err, sessionguard.ErrNoCredentials) {
				cmd.Println("Not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			// The local session is removed even if the server is unreachable.
			if err := client.Logout(cmd.Context(), creds.AccessToken); err != nil {
				cmd.PrintErrf("warning: server logout failed: %v\n", err)
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Logged out")
			return nil
		},
	}
}

func (o *clientOptions) open() (*authclient.Client, *boltstore.Store, error) {
	client, err := authclient.New(o.server, authclient.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}

	path := o.sessionFile
	if path == "" {
		dir, err := xdg.StateDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "session.db")
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, nil, err
	}
	store, err := boltstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return client, store, nil
}

func closeStore(cmd *cobra.Command, store *boltstore.Store) {
	if err := store.Close(); err != nil {
		cmd.PrintErrf("warning: %v\n", err)
	}
}

// promptLoginPassword reads an existing password: once without echo on a
// terminal, or the first line of input otherwise.
func promptLoginPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(int(f.Fd())) {
		return readTerminalPassword(cmd, f, "Password: ")
	}
	return readInputLine(cmd)
}
