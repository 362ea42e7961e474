package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/estate-erp-api/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage export_jobs and audit_logs migrations",
	}

	run := func(action func(cmd *cobra.Command, m *database.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			comps, err := connect()
			if err != nil {
				return err
			}
			defer comps.Close()
			m, err := comps.Migrator()
			if err != nil {
				return err
			}
			return action(cmd, m)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(cmd *cobra.Command, m *database.Migrator) error {
				if err := m.Up(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), colorOK("migrations applied"))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(cmd *cobra.Command, m *database.Migrator) error {
				if err := m.Down(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), colorWarn("rolled back one migration"))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print migration status",
			RunE: run(func(cmd *cobra.Command, m *database.Migrator) error {
				return m.Status(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(cmd *cobra.Command, m *database.Migrator) error {
				version, err := m.Version(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", colorInfo(version))
				return nil
			}),
		},
	)
	return cmd
}
