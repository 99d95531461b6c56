package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lowrankdecomp/pkg/registration"
)

func newSoftwareCommand(ctx *commandContext) *cobra.Command {
	var searchPaths []string

	cmd := &cobra.Command{
		Use:   "software",
		Short: "Report where the external registration tools were found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			paths := append(append([]string{}, searchPaths...), cfg.Software.SearchPaths...)
			found := registration.Discover(paths)

			rows := make([][]string, 0, len(registration.RequiredSoftware()))
			for _, name := range registration.RequiredSoftware() {
				location, ok := found[name]
				if !ok {
					location = "not found"
				}
				rows = append(rows, []string{name, location})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Tool", "Location"}, rows, nil))
			if missing := found.Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "%d of %d tools missing\n", len(missing), len(registration.RequiredSoftware()))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&searchPaths, "search-path", nil, "Extra directories searched before PATH")
	return cmd
}
