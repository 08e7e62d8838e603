package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/fileutil"
	"ferry/internal/ingest"
	"ferry/internal/logging"
	"ferry/internal/notifications"
)

type uploadOptions struct {
	batch        bool
	yes          bool
	skipExisting bool
	reportPath   string
	overrides    metadataOverrides
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload PATH...",
		Short: "Upload transcripts and their media",
		Long: "Upload classifies the given files and directories, then uploads each transcript with its\n" +
			"media, submits the server's ingestion parameters and follows server-side processing.\n" +
			"Interactive mode asks about extra parameters and stops at the first failure; batch mode\n" +
			"accepts server defaults and carries on.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, ctx, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.batch, "batch", false, "Submit server defaults and continue past failures")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Never prompt; accept defaults and stop on failure")
	cmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", false, "Leave transcripts already on the server untouched")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write the CSV report to this file when the run ends (- for stdout)")
	cmd.Flags().StringVar(&opts.overrides.corpus, "corpus", "", "Corpus for every new transcript")
	cmd.Flags().StringVar(&opts.overrides.episode, "episode", "", "Episode for every new transcript")
	cmd.Flags().StringVar(&opts.overrides.transcriptType, "type", "", "Transcript type for every new transcript")
	return cmd
}

func runUpload(cmd *cobra.Command, ctx *commandContext, args []string, opts uploadOptions) error {
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
	if opts.skipExisting {
		if n := s.dropExisting(); n > 0 {
			s.logger.Info("stored transcripts skipped", logging.Int("count", n))
		}
	}
	if _, err := s.applyOverrides(opts.overrides); err != nil {
		return err
	}
	pending := countUploadable(s.registry.Entries())
	if pending == 0 {
		return fmt.Errorf("%w: no transcript found in %s", ingest.ErrNothingToUpload, strings.Join(args, ", "))
	}

	mode := ingest.ModeInteractive
	if opts.batch || cfg.Upload.Batch {
		mode = ingest.ModeBatch
	}
	out := cmd.OutOrStdout()
	prompts := newPrompter(cmd.InOrStdin(), out)
	view := newProgressView(out, mode == ingest.ModeBatch)
	defer view.stop()

	record := beginRecord(runCtx, cfg, s.logger, "upload", mode, time.Now())
	defer record.close()
	s.logger = record.scope(s.logger)

	uploaderOpts := ingest.UploaderOptions{
		PollInterval:       cfg.PollInterval(),
		CancelStopsPolling: cfg.Upload.CancelStopsPolling,
		MaxPollFailures:    cfg.Upload.MaxPollFailures,
		Listener:           view.handle,
		Logger:             s.logger,
	}
	if !opts.yes {
		uploaderOpts.Confirmer = prompts
	}
	uploader := ingest.NewUploader(s.registry, s.client, uploaderOpts)

	notifier := notifications.NewService(cfg)
	notify(s, notifier.NotifyRunStarted(runCtx, "upload", pending))

	stopWatching := watchInterrupts(cmd.ErrOrStderr(), uploader.Cancel, abort)
	defer stopWatching()

	var (
		total  ingest.RunSummary
		runErr error
		halt   *ingest.HaltError
	)
	for {
		runErr = uploader.Run(runCtx, mode)
		if errors.Is(runErr, ingest.ErrNothingToUpload) {
			break
		}
		if err := uploader.Wait(runCtx); err != nil {
			uploader.StopPolling()
			_ = uploader.Wait(context.Background())
		}
		total = mergeSummaries(total, uploader.Summary())
		if !errors.As(runErr, &halt) || opts.yes || runCtx.Err() != nil {
			break
		}
		if !prompts.confirm(fmt.Sprintf("Upload of %s failed: %s. Retry", halt.EntryID, halt.Err), false) {
			break
		}
		halt = nil
	}
	view.stop()

	entries := s.registry.Entries()
	color := isTerminal(out)
	fmt.Fprintln(out)
	renderEntries(out, entries, color)
	renderSummary(out, total)

	record.finish(runCtx, total, entries)
	notifyCtx := context.WithoutCancel(runCtx)
	notify(s, notifier.NotifyRunCompleted(notifyCtx, total))
	if halt != nil {
		notify(s, notifier.NotifyError(notifyCtx, halt.Err, "upload of "+halt.EntryID))
	}

	if err := writeRunReport(out, prompts, record, entries, opts, mode == ingest.ModeBatch && isTerminal(cmd.InOrStdin())); err != nil {
		return err
	}

	switch {
	case runCtx.Err() != nil:
		return runCtx.Err()
	case errors.Is(runErr, ingest.ErrNothingToUpload):
		return nil
	}
	return runErr
}

// countUploadable counts the transcripts the next upload run would take.
func countUploadable(entries []ingest.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Transcript == nil || e.Op != ingest.OpNone {
			continue
		}
		switch e.State {
		case ingest.StateQueued, ingest.StateFailed, ingest.StateParametersPending:
			n++
		}
	}
	return n
}

func writeRunReport(out io.Writer, prompts *prompter, record *runRecord, entries []ingest.Entry, opts uploadOptions, offer bool) error {
	path := strings.TrimSpace(opts.reportPath)
	if path == "" && offer && !opts.yes && prompts.confirm("Write CSV report", true) {
		path = fmt.Sprintf("ferry-report-%s.csv", time.Now().Format("20060102-150405"))
	}
	if path == "" {
		if id := record.runID(); id != "" {
			fmt.Fprintf(out, "Run %s recorded; `ferry report %s` writes its CSV report\n", shortID(id), shortID(id))
		}
		return nil
	}
	if path == "-" {
		return ingest.WriteReport(out, entries)
	}
	if err := writeReportFile(path, entries); err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", path)
	return nil
}

func writeReportFile(path string, entries []ingest.Entry) error {
	err := fileutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return ingest.WriteReport(w, entries)
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func notify(s *session, err error) {
	if err != nil {
		logging.WarnWithContext(s.logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
