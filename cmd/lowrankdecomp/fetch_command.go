package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lowrankdecomp/pkg/fetch"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		manifestPath string
		cacheDir     string
		selection    []int
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the files of a data manifest into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(manifestPath) == "" {
				manifestPath = cfg.Data.Manifest
			}
			if manifestPath == "" {
				return fmt.Errorf("no manifest given (use --manifest or data.manifest)")
			}
			if cacheDir == "" {
				cacheDir = cfg.Data.CacheDir
			}
			if !cmd.Flags().Changed("force") {
				force = cfg.Data.ForceRedownload
			}

			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			manifest, err := fetch.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			items, err := manifest.Select(selection)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var total uint64
			_, err = fetch.NewDownloader(cacheDir, force, logger).Download(runCtx, items, func(item fetch.Item, path string) {
				size := ""
				if info, statErr := os.Stat(path); statErr == nil {
					total += uint64(info.Size())
					size = humanize.Bytes(uint64(info.Size()))
				}
				fmt.Fprintf(out, "%-40s %10s  %s\n", item.Name, size, path)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fetched %d files (%s) into %s\n", len(items), humanize.Bytes(total), cacheDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "JSON data manifest (defaults to data.manifest)")
	cmd.Flags().StringVar(&cacheDir, "cache", "", "Download directory (defaults to data.cache_dir)")
	cmd.Flags().IntSliceVar(&selection, "selection", nil, "Indices of the files to download; all when empty")
	cmd.Flags().BoolVar(&force, "force", false, "Download again even when cached")
	return cmd
}
