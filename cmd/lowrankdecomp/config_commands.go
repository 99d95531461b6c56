package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lowrankdecomp/pkg/config"
	"lowrankdecomp/pkg/fetch"
	"lowrankdecomp/pkg/imageio"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and validate configuration files",
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigExampleCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var path string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				target = ctx.configPath()
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --overwrite)", target)
			}
			if err := config.CreateDefaultConfigFile(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination (defaults to --config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigExampleCommand(ctx *commandContext) *cobra.Command {
	var (
		algorithm    string
		manifestPath string
		cacheDir     string
		resultDir    string
		registration string
		selection    []int
		path         string
		download     bool
	)

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Write an example configuration and file list from a data manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			algo, err := config.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			manifest, err := fetch.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			target := strings.TrimSpace(path)
			if target == "" {
				target = ctx.configPath()
			}
			if cacheDir == "" {
				cacheDir = config.DefaultConfig().Data.CacheDir
			}
			// stored paths must not depend on the working directory
			if cacheDir, err = filepath.Abs(cacheDir); err != nil {
				return err
			}
			if target, err = filepath.Abs(target); err != nil {
				return err
			}
			if resultDir != "" {
				if resultDir, err = filepath.Abs(resultDir); err != nil {
					return err
				}
			}

			if download {
				logger, err := ctx.logger(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				items, err := manifest.Select(selection)
				if err != nil {
					return err
				}
				if _, err := fetch.NewDownloader(cacheDir, false, logger).Download(cmd.Context(), items, nil); err != nil {
					return err
				}
			}

			files := manifest.CachePaths(cacheDir)
			if len(files) == 0 {
				return fmt.Errorf("%w: manifest lists no files", fetch.ErrInvalidManifest)
			}
			fileList := filepath.Join(filepath.Dir(target), "fileList.txt")
			if err := imageio.WriteFileList(fileList, files); err != nil {
				return err
			}

			if len(selection) == 0 {
				selection = config.SelectAll(len(files))
			}
			cfg, err := config.ExampleConfig(algo, files[0], fileList, selection)
			if err != nil {
				return err
			}
			cfg.Data.CacheDir = cacheDir
			if cfg.Data.Manifest, err = filepath.Abs(manifestPath); err != nil {
				return err
			}
			if resultDir != "" {
				cfg.Output.ResultDir = resultDir
			}
			if registration != "" && algo == config.LowRank {
				cfg.Preprocess.Registration = registration
			}
			if err := config.SaveConfig(cfg, target); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %s configuration to %s\n", algo.Title(), target)
			fmt.Fprintf(out, "Wrote file list to %s\n", fileList)
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(config.LowRank), "Algorithm: lr, uab or nglra")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "JSON data manifest")
	cmd.Flags().StringVar(&cacheDir, "cache", "", "Directory holding downloaded data")
	cmd.Flags().StringVar(&resultDir, "result-dir", "", "Output directory of the run")
	cmd.Flags().StringVar(&registration, "registration", "", "Registration for lr: none, rigid or affine")
	cmd.Flags().IntSliceVar(&selection, "selection", nil, "Indices of the manifest files to use")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination (defaults to --config)")
	cmd.Flags().BoolVar(&download, "download", false, "Download the selected files first")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}
}
