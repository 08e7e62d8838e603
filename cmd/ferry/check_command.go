package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ferry/internal/preflight"
)

var errChecksFailed = errors.New("one or more checks failed")

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check local state directories and server connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var probe preflight.ServerProbe
			if !offline {
				client, err := newClientWithRetries(cfg, -1)
				if err != nil {
					return err
				}
				probe = client
			}
			results := preflight.RunAll(cmd.Context(), cfg, probe)

			out := cmd.OutOrStdout()
			color := isTerminal(out)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "ok"
				code := ansiGreen
				if !r.Passed {
					status = "failed"
					code = ansiRed
				}
				rows = append(rows, []string{r.Name, colorize(status, code, color), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			if preflight.Failed(results) {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the corpus server check")
	return cmd
}
