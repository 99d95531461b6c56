package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lowrankdecomp/pkg/fetch"
)

func newCatalogCommand() *cobra.Command {
	var input, output, suffix, url string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Convert a Midas catalog listing into a JSON data manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			manifest, err := fetch.ParseCatalog(f, suffix, url)
			if err != nil {
				return err
			}
			if err := manifest.Save(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", len(manifest.Files), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input catalog")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSON manifest")
	cmd.Flags().StringVarP(&suffix, "suffix", "s", "", "Keep only names containing this suffix")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Base URL the data is downloaded from")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
