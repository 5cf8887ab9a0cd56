// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/taskd/internal/store"
)

// schemaMigrator is the part of *store.Migrator the migrate commands use.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Status() (*store.Status, error)
	Close() error
}

// newMigrator opens a migrator. Tests replace it.
var newMigrator = func(databaseURL string) (schemaMigrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, revert or inspect the embedded PostgreSQL schema migrations.`,
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m schemaMigrator) error {
				if steps > 0 {
					if err := m.Steps(steps); err != nil {
						return err
					}
				} else if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "apply at most this many migrations (0 = all)")
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var (
		steps int
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Long: `Revert migrations. Without --steps every migration is reverted and
all accounts, sessions and reset requests are dropped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 && !yes {
				return oops.Code("CONFIRMATION_REQUIRED").
					Errorf("reverting every migration drops all data; pass --yes to confirm")
			}
			return withMigrator(cmd, func(m schemaMigrator) error {
				if steps > 0 {
					if err := m.Steps(-steps); err != nil {
						return err
					}
				} else if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migrations reverted")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "revert at most this many migrations (0 = all)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm reverting every migration")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m schemaMigrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				cmd.Printf("Version: %d", st.Version)
				if st.Dirty {
					cmd.Print(" (dirty)")
				}
				cmd.Println()
				cmd.Printf("Applied: %s\n", listOrNone(st.Applied))
				cmd.Printf("Pending: %s\n", listOrNone(st.Pending))
				return nil
			})
		},
	}
}

func withMigrator(cmd *cobra.Command, fn func(schemaMigrator) error) error {
	cfg, _, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	if err := requirePostgres(cfg, "migrate"); err != nil {
		return err
	}

	m, err := newMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()
	return fn(m)
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
