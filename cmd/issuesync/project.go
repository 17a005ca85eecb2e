package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartshark/issuesync/internal/config"
	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/factory"
	"github.com/smartshark/issuesync/internal/ui"
)

func newProjectCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the projects runs are recorded under",
	}
	cmd.PersistentFlags().String("db-driver", "sqlite", "Store backend: memory, sqlite, mysql or dolt")
	cmd.PersistentFlags().String("db-dsn", "issuesync.db", "Store data source name")

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withStore(cmd.Context(), func(store storage.Storage) error {
				if _, err := store.GetProjectByName(cmd.Context(), args[0]); err == nil {
					return fmt.Errorf("project %q already exists", args[0])
				}
				p, err := ensureProject(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if s.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Created project %s %s\n",
					ui.PassStyle.Render(ui.IconPass), ui.RenderAccent(p.Name), ui.RenderMuted(p.ID))
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withStore(cmd.Context(), func(store storage.Storage) error {
				projects, err := store.ListProjects(cmd.Context())
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("list projects: %w", err)
				}
				if s.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), projects)
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderProjects(projects))
				return nil
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func (s *session) withStore(ctx context.Context, fn func(storage.Storage) error) error {
	driver := config.GetString("db-driver")
	store, err := factory.New(ctx, driver, config.GetString("db-dsn"))
	if err != nil {
		return fmt.Errorf("open %s store: %w", driver, err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}
