package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ricirt/marketplace-realtime/internal/config"
	"github.com/ricirt/marketplace-realtime/internal/db"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateVersionCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func buildMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.MigrateDown(cfg.DatabaseURL, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
}

func buildMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			v, dirty, err := db.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dirty {
				fmt.Fprintf(out, "%d (dirty)\n", v)
				return nil
			}
			fmt.Fprintln(out, v)
			return nil
		},
	}
}
