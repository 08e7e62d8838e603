package main

import (
	"context"
	"log/slog"
	"time"

	"ferry/internal/config"
	"ferry/internal/ingest"
	"ferry/internal/journal"
	"ferry/internal/logging"
)

// runRecord journals one command's run. A journal that cannot be opened is
// logged and skipped; the run itself goes ahead.
type runRecord struct {
	journal *journal.Journal
	id      string
	logger  *slog.Logger
}

func beginRecord(ctx context.Context, cfg *config.Config, logger *slog.Logger, kind string, mode ingest.Mode, started time.Time) *runRecord {
	j, err := journal.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "run journal unavailable; run will not be recorded", "journal_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
		)
		return nil
	}
	modeLabel := mode.String()
	if kind == "delete" {
		modeLabel = "-"
	}
	id, err := j.BeginRun(ctx, kind, modeLabel, started)
	if err != nil {
		logging.WarnWithContext(logger, "run journal write failed", "journal_write_failed", logging.Error(err))
		_ = j.Close()
		return nil
	}
	logger.Debug("run recorded", logging.String(logging.FieldRunID, id))
	return &runRecord{journal: j, id: id, logger: logger}
}

func (r *runRecord) runID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// scope tags logger with the run id so the run's log lines can be found later.
func (r *runRecord) scope(logger *slog.Logger) *slog.Logger {
	if r == nil || logger == nil {
		return logger
	}
	return logger.With(logging.String(logging.FieldRunID, r.id))
}

func (r *runRecord) finish(ctx context.Context, summary ingest.RunSummary, entries []ingest.Entry) {
	if r == nil {
		return
	}
	if err := r.journal.FinishRun(context.WithoutCancel(ctx), r.id, summary, entries); err != nil {
		logging.WarnWithContext(r.logger, "run journal write failed", "journal_write_failed",
			logging.String(logging.FieldRunID, r.id),
			logging.Error(err),
		)
	}
}

func (r *runRecord) close() {
	if r == nil {
		return
	}
	_ = r.journal.Close()
}

// mergeSummaries folds the summary of a resumed run into the total.
func mergeSummaries(total, next ingest.RunSummary) ingest.RunSummary {
	if total.Started.IsZero() {
		total = ingest.RunSummary{Kind: next.Kind, Mode: next.Mode, Started: next.Started}
	}
	total.Attempted += next.Attempted
	total.Succeeded += next.Succeeded
	total.Failed += next.Failed
	total.Cancelled = next.Cancelled
	total.Duration = time.Since(total.Started)
	return total
}
