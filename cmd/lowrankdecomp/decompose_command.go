package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lowrankdecomp/pkg/pipeline"
	"lowrankdecomp/pkg/runner"
)

func newDecomposeCommand(ctx *commandContext) *cobra.Command {
	var extraImage string

	cmd := &cobra.Command{
		Use:   "decompose",
		Short: "Decompose the configured image collection into low-rank and sparse parts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(out, "================================")
			fmt.Fprintln(out, "LOW-RANK / SPARSE IMAGE DECOMPOSITION")
			fmt.Fprintf(out, "Algorithm: %s\n", cfg.Algorithm.Title())
			fmt.Fprintln(out, "================================")

			startTime := time.Now()
			run, err := runner.New(logger, store).Start(runCtx, runner.Job{
				Config:     cfg,
				ConfigPath: ctx.configPath(),
				ExtraImage: extraImage,
			})
			if err != nil {
				return err
			}
			defer run.Cancel()

			summary, err := followRun(out, run, isTerminal(out))
			if err != nil {
				return err
			}
			printSummary(out, summary, time.Since(startTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&extraImage, "image", "", "Extra image appended to the file list and selection")
	return cmd
}

// followRun prints run events until the run ends.
func followRun(out io.Writer, run *runner.Run, interactive bool) (*pipeline.Summary, error) {
	var summary *pipeline.Summary
	for ev := range run.Events() {
		switch ev.Kind {
		case runner.EventProgress:
			if interactive {
				fmt.Fprintf(out, "\r%-12s %5.1f%% %-40s", ev.Progress.Stage, ev.Progress.Fraction*100, ev.Progress.Message)
			}
		case runner.EventOutput:
			if interactive {
				fmt.Fprint(out, "\r\033[K")
			}
			fmt.Fprintf(out, "Wrote %s\n", ev.Path)
		case runner.EventDone:
			summary = ev.Summary
		}
	}
	if interactive {
		fmt.Fprint(out, "\r\033[K")
	}
	if err := run.Wait(); err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, context.Canceled
	}
	return summary, nil
}

func printSummary(out io.Writer, summary *pipeline.Summary, elapsed time.Duration) {
	fmt.Fprintf(out, "\nDecomposition completed in %.2f seconds\n", elapsed.Seconds())
	printMetrics(out, summary.Metrics)
}

// printMetrics prints the run totals and the per-image metric table.
func printMetrics(out io.Writer, m *pipeline.Metrics) {
	fmt.Fprintf(out, "Images: %d (%dx%d)  Rank: %d  Iterations: %d  Residual: %.3g  Converged: %t\n\n",
		m.Images, m.Width, m.Height, m.Rank, m.Iterations, m.Residual, m.Converged)

	rows := make([][]string, 0, len(m.PerImage))
	for _, im := range m.PerImage {
		rows = append(rows, []string{
			im.Name,
			strconv.FormatFloat(im.RMSE, 'f', 3, 64),
			strconv.FormatFloat(im.SSIM, 'f', 3, 64),
			strconv.FormatFloat(im.MI, 'f', 3, 64),
			strconv.FormatFloat(im.SparseEnergy, 'f', 4, 64),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Image", "RMSE", "SSIM", "MI", "Sparse energy"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}
