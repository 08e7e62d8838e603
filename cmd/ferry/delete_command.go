package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/ingest"
	"ferry/internal/notifications"
)

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete PATH...",
		Short: "Delete stored transcripts matching local files",
		Long: "Delete classifies the given files, looks each transcript up on the server and deletes the\n" +
			"ones found there. Local files are never touched.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := acquireRunLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			runCtx, abort := context.WithCancel(cmd.Context())
			defer abort()

			s, err := ctx.openSession(runCtx)
			if err != nil {
				return err
			}
			if _, err := s.addPaths(args); err != nil {
				return err
			}

			var stored []string
			for _, e := range s.registry.Entries() {
				if e.Transcript != nil && e.Exists == ingest.ExistenceYes {
					stored = append(stored, e.TranscriptName())
				}
			}
			if len(stored) == 0 {
				return fmt.Errorf("%w: none of the transcripts is stored on %s", ingest.ErrNothingToDelete, s.client.BaseURL())
			}

			out := cmd.OutOrStdout()
			if !yes {
				prompts := newPrompter(cmd.InOrStdin(), out)
				fmt.Fprintf(out, "Stored on %s:\n  %s\n", s.client.BaseURL(), strings.Join(stored, "\n  "))
				if !prompts.confirm(fmt.Sprintf("Delete %d transcripts", len(stored)), false) {
					fmt.Fprintln(out, "Nothing deleted")
					return nil
				}
			}

			record := beginRecord(runCtx, cfg, s.logger, "delete", ingest.ModeBatch, time.Now())
			defer record.close()
			s.logger = record.scope(s.logger)

			view := newProgressView(out, false)
			defer view.stop()
			deleter := ingest.NewDeleter(s.registry, s.client, ingest.DeleterOptions{
				Listener: view.handle,
				Logger:   s.logger,
			})

			notifier := notifications.NewService(cfg)
			notify(s, notifier.NotifyRunStarted(runCtx, "delete", len(stored)))

			stopWatching := watchInterrupts(cmd.ErrOrStderr(), deleter.Cancel, abort)
			summary, runErr := deleter.Run(runCtx)
			stopWatching()
			view.stop()

			entries := s.registry.Entries()
			fmt.Fprintln(out)
			renderEntries(out, entries, isTerminal(out))
			renderSummary(out, summary)

			record.finish(runCtx, summary, entries)
			notify(s, notifier.NotifyRunCompleted(context.WithoutCancel(runCtx), summary))

			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			if errors.Is(runErr, ingest.ErrNothingToDelete) {
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking for confirmation")
	return cmd
}
