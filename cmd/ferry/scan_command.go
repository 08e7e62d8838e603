package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan PATH...",
		Short: "Classify files and show the resulting entries",
		Long: "Scan groups transcripts and media into entries, infers corpus, episode and type from the\n" +
			"directory layout and checks which transcripts are already stored. Nothing is uploaded.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := s.addPaths(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderEntries(out, s.registry.Entries(), isTerminal(out))
			fmt.Fprintf(out, "%d transcripts, %d media files, %d ignored, %d csv files discarded\n",
				summary.Transcripts, summary.Media, summary.Ignored, summary.Discarded)
			return nil
		},
	}
}
