package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ferry/internal/ingest"
)

func newServerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Show the server's corpora, transcript types, media tracks and formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			catalog, err := ingest.LoadCatalog(cmd.Context(), client)
			if err != nil {
				return fmt.Errorf("load server catalog from %s: %w", client.BaseURL(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server: %s\n", client.BaseURL())
			fmt.Fprintf(out, "Corpora: %s\n", strings.Join(catalog.Corpora, ", "))
			fmt.Fprintf(out, "Transcript types: %s\n", strings.Join(catalog.TranscriptTypes, ", "))

			trackRows := make([][]string, 0, len(catalog.Tracks))
			for _, t := range catalog.Tracks {
				suffix := t.Suffix
				if suffix == "" {
					suffix = "(default)"
				}
				trackRows = append(trackRows, []string{suffix, dash(t.Description)})
			}
			fmt.Fprintln(out, renderTable([]string{"Track", "Description"}, trackRows, nil))

			formatRows := make([][]string, 0, len(catalog.Deserializers))
			for _, d := range catalog.Deserializers {
				suffixes := append([]string(nil), d.FileSuffixes...)
				sort.Strings(suffixes)
				formatRows = append(formatRows, []string{d.Name, strings.Join(suffixes, ", "), dash(d.MimeType), dash(d.Version)})
			}
			fmt.Fprintln(out, renderTable([]string{"Format", "Suffixes", "MIME Type", "Version"}, formatRows, nil))
			return nil
		},
	}
}
