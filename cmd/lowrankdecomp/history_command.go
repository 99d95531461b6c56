package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lowrankdecomp/pkg/history"
	"lowrankdecomp/pkg/pipeline"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded decomposition runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if store == nil {
				fmt.Fprintln(out, "Run history is disabled (set logging.history_db)")
				return nil
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				duration := ""
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				rows = append(rows, []string{
					r.ID[:min(8, len(r.ID))],
					r.Algorithm,
					string(r.Status),
					strconv.Itoa(r.Images),
					strconv.Itoa(r.Rank),
					strconv.Itoa(r.Iterations),
					humanize.Time(r.StartedAt),
					duration,
					r.ResultDir,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Algo", "Status", "Images", "Rank", "Iter", "Started", "Took", "Result dir"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and the metrics it wrote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("run history is disabled (set logging.history_db)")
			}
			defer store.Close()

			run, err := findRun(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			fmt.Fprintf(out, "Algorithm:  %s\n", run.Algorithm)
			fmt.Fprintf(out, "Status:     %s\n", run.Status)
			fmt.Fprintf(out, "Started:    %s (%s)\n", run.StartedAt.Format(time.RFC3339), humanize.Time(run.StartedAt))
			fmt.Fprintf(out, "Result dir: %s\n", run.ResultDir)
			if run.Error != "" {
				fmt.Fprintf(out, "Error:      %s\n", run.Error)
			}

			metrics, err := pipeline.ReadMetrics(filepath.Join(run.ResultDir, pipeline.MetricsFile))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Fprintln(out, "\nNo metrics recorded")
				return nil
			case err != nil:
				return err
			case metrics.RunID != run.ID:
				fmt.Fprintf(out, "\nMetrics in %s belong to run %s\n", run.ResultDir, metrics.RunID)
				return nil
			}
			fmt.Fprintln(out)
			printMetrics(out, metrics)
			return nil
		},
	}
}

// findRun resolves a full run id or a unique prefix of one.
func findRun(ctx context.Context, store *history.Store, id string) (*history.Run, error) {
	run, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, history.ErrNotFound) {
		return run, err
	}
	runs, err := store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var match *history.Run
	for i := range runs {
		if !strings.HasPrefix(runs[i].ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
		}
		match = &runs[i]
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	return match, nil
}
