package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/assimilate/internal/backup"
	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/runstore"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}

	var filter runstore.ListFilter
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(func(store *runstore.Store) error {
				records, err := store.List(&filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCASE\tALGORITHM\tEVALUATOR\tSTATUS\tCALLOUTS\tSTARTED")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						r.ID, r.CaseName, r.Algorithm, r.Evaluator, r.Status, r.Callouts,
						r.StartedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&filter.Status, "status", "", "only runs with this status")
	list.Flags().StringVar(&filter.CaseName, "case", "", "only runs of this case")
	list.Flags().StringVar(&filter.ScheduleID, "schedule", "", "only runs started by this schedule")
	list.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of runs")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Print one recorded run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(func(store *runstore.Store) error {
				rec, err := store.Get(args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(func(store *runstore.Store) error {
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func withRunStore(fn func(*runstore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newEvaluatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluators",
		Short: "List configured evaluators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tDESCRIPTION")
			for _, info := range config.ListEvaluators(cfg.Evaluators) {
				name := info.Name
				if name == cfg.Defaults.Session.Evaluator {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, info.Type, info.Description)
			}
			return w.Flush()
		},
	}
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the data directory",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackup(func(m *backup.Manager) error {
				snap, err := m.Snapshot()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%d bytes)\n", snap.Filename, snap.SizeBytes)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackup(func(m *backup.Manager) error {
				manifest, err := m.ExportManifest()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(manifest, '\n'))
				return err
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore <snapshot> <target-dir>",
		Short: "Extract a snapshot into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackup(func(m *backup.Manager) error {
				if err := m.Restore(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s into %s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}

func withBackup(fn func(*backup.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b := cfg.Defaults.Backup
	m, err := backup.New(backup.Config{
		DataDir:   cfg.Data.Dir,
		BackupDir: b.Directory,
		Retention: b.Retention,
	})
	if err != nil {
		return err
	}
	return fn(m)
}
