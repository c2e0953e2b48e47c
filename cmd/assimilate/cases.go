package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/casemodel"
	"github.com/HyphaGroup/assimilate/internal/evaluator"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		evaluatorName string
		save          bool
		asJSON        bool
		history       bool
	)
	cmd := &cobra.Command{
		Use:   "run <case-file>",
		Short: "Run a case to completion with a configured evaluator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := casemodel.Load(args[0])
			if err != nil {
				return err
			}
			if evaluatorName == "" {
				evaluatorName = cfg.Defaults.Session.Evaluator
			}

			rt, err := openRuntime(cfg)
			if err != nil {
				return err
			}
			if rt != nil {
				defer func() { _ = rt.Close() }()
			}
			registry := evaluator.NewRegistry(cfg.Evaluators, rt)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := registry.Close(ctx); err != nil {
					logger.Error("Failed to close evaluators: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ev, err := registry.Get(ctx, evaluatorName)
			if err != nil {
				return err
			}

			sess := session.New(session.Options{
				Evaluator:         evaluatorName,
				EvaluationTimeout: cfg.EvaluationTimeout(),
			})
			analysis, runErr := sess.Run(ctx, m, ev)

			if save {
				if err := saveRun(cfg.Data.Dir, sess, analysis); err != nil {
					logger.Error("Failed to save run %s: %v", sess.ID(), err)
				}
			}
			if runErr != nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, runOutput{
					RunID:    sess.ID(),
					CaseName: sess.Options().CaseName,
					Callouts: sess.Callouts(),
					Analysis: analysis,
				})
			}
			fmt.Fprintf(out, "Run:       %s\n", sess.ID())
			fmt.Fprintf(out, "Case:      %s\n", sess.Options().CaseName)
			fmt.Fprintf(out, "Algorithm: %s\n", sess.Algorithm())
			fmt.Fprintf(out, "Callouts:  %d\n", sess.Callouts())
			fmt.Fprintf(out, "Analysis:  %s\n", formatVector(analysis))
			if history {
				state, err := sess.History()
				if err != nil {
					return err
				}
				printHistory(out, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&evaluatorName, "evaluator", "e", "", "evaluator name (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "record the run in the run store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&history, "history", false, "print every stored series")
	return cmd
}

type runOutput struct {
	RunID    string           `json:"run_id"`
	CaseName string           `json:"case_name"`
	Callouts int64            `json:"callouts"`
	Analysis algorithm.Vector `json:"analysis"`
}

func saveRun(dataDir string, sess *session.Session, analysis algorithm.Vector) error {
	store, err := runstore.NewStore(dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sum := sess.Summary()
	rec := &runstore.Record{
		ID:         sum.RunID,
		CaseName:   sum.CaseName,
		Algorithm:  string(sum.Algorithm),
		Evaluator:  sum.Evaluator,
		Status:     string(sum.Status),
		Callouts:   sum.Callouts,
		Analysis:   analysis,
		Error:      sum.Error,
		StartedAt:  sum.CreatedAt,
		FinishedAt: sum.FinishedAt,
	}
	if sum.StartedAt != nil {
		rec.StartedAt = *sum.StartedAt
	}
	return store.Save(rec)
}

func printHistory(w io.Writer, state *algorithm.State) {
	for _, name := range state.Names() {
		series, err := state.Get(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d)\n", name, len(series))
		for i, v := range series {
			fmt.Fprintf(w, "  %3d  %s\n", i, formatVector(v))
		}
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <case-file>...",
		Short: "Check case files against the case schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				m, err := casemodel.Load(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				// Any hook will do: Build only needs one bound to check the problem.
				m.BindHook(evaluator.Hook(evaluator.Identity))
				if _, err := m.Build(); err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s, state %d, observations %d)\n",
					path, m.AlgorithmParameters.Algorithm, len(m.Background.Vector), len(m.Observation.Vector))
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d case files are invalid", len(errs), len(args))
			}
			return nil
		},
	}
}

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <case-file>",
		Short: "Print the builder script equivalent to a case file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := casemodel.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), m.Script())
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of case files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := casemodel.Schema()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), schema)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatVector renders a vector compactly.
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.6g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
