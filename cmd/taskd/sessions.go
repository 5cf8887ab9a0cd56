// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session maintenance",
	}
	cmd.AddCommand(newSessionsPurgeCmd(nil))
	return cmd
}

func newSessionsPurgeCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions and password reset requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg, "sessions purge"); err != nil {
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
			sessions, resets, err := svc.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired sessions and %d reset requests\n", sessions, resets)
			return nil
		},
	}
}
