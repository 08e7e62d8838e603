package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferry/internal/logging"
	"ferry/internal/services"
)

// DeleteServer removes stored transcripts.
type DeleteServer interface {
	DeleteTranscript(ctx context.Context, id string) error
}

// DeleterOptions tunes a Deleter.
type DeleterOptions struct {
	Listener Listener
	Logger   *slog.Logger
}

// Deleter removes existing transcripts from the server one entry at a time.
type Deleter struct {
	registry *Registry
	server   DeleteServer
	listener Listener
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	active  bool
	runSeq  int
	summary RunSummary
}

// NewDeleter builds a deleter over registry.
func NewDeleter(registry *Registry, server DeleteServer, opts DeleterOptions) *Deleter {
	return &Deleter{
		registry: registry,
		server:   server,
		listener: opts.Listener,
		logger:   logging.NewComponentLogger(opts.Logger, "deleter"),
	}
}

// Run deletes every entry known to exist on the server. A failed delete is
// recorded on its entry and the run moves on; each entry is tried at most
// once per run.
func (d *Deleter) Run(ctx context.Context) (RunSummary, error) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return RunSummary{}, ErrRunInProgress
	}
	d.runSeq++
	seq := d.runSeq
	eligible := func(e *Entry) bool {
		return e.Exists == ExistenceYes && e.Op == OpNone && e.deleteAttempt != seq && e.Transcript != nil
	}
	if !d.registry.any(eligible) {
		d.mu.Unlock()
		return RunSummary{Kind: "delete"}, ErrNothingToDelete
	}
	d.active, d.running = true, true
	d.summary = RunSummary{Kind: "delete", Started: time.Now()}
	d.mu.Unlock()

	d.logger.Info("delete run started", logging.String(logging.FieldEventType, "run_started"))

	var result error
	for {
		if !d.Running() {
			result = ErrRunCancelled
			break
		}
		entry, ok := d.registry.claim(eligible, func(e *Entry) {
			e.Op = OpDelete
			e.deleteAttempt = seq
			e.resetAttempt()
			e.raiseProgress(50)
			e.Status = "Deleting"
		})
		if !ok {
			break
		}
		d.emit(entry)
		d.deleteEntry(ctx, entry)
	}

	d.mu.Lock()
	d.active, d.running = false, false
	d.summary.Cancelled = result != nil
	d.summary.Duration = time.Since(d.summary.Started)
	summary := d.summary
	d.mu.Unlock()

	d.logger.Info("delete run complete",
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Bool("cancelled", summary.Cancelled),
		logging.String(logging.FieldEventType, "run_complete"),
	)
	if d.listener != nil {
		d.listener(Event{Kind: EventRunComplete, Summary: summary})
	}
	return summary, result
}

func (d *Deleter) deleteEntry(ctx context.Context, entry Entry) {
	ctx = services.WithEntryID(ctx, entry.ID)
	ctx = services.WithStage(ctx, "delete")
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, d.logger)

	err := d.server.DeleteTranscript(ctx, entry.Transcript.Name)
	snapshot, ok := d.registry.update(entry.ID, func(e *Entry) {
		e.Op = OpNone
		if err != nil {
			e.Status = "delete failed"
			e.Errors = append(e.Errors, errorText(err))
			return
		}
		e.Exists = ExistenceNo
		e.UploadID = ""
		e.Parameters = nil
		e.Handles = nil
		e.State = StateQueued
		e.raiseProgress(100)
		e.Status = "Deleted"
	})

	d.mu.Lock()
	d.summary.Attempted++
	if err != nil {
		d.summary.Failed++
	} else {
		d.summary.Succeeded++
	}
	d.mu.Unlock()

	if ok {
		d.emit(snapshot)
	}
	if err != nil {
		logger.Error("delete failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "delete_failed"),
			logging.String(logging.FieldErrorHint, "check the transcript on the server"),
		)
		return
	}
	logger.Info("transcript deleted", logging.String("transcript", entry.Transcript.Name))
}

// Running reports whether the current run may start another delete.
func (d *Deleter) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Cancel stops the run after the in-flight delete returns.
func (d *Deleter) Cancel() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Deleter) emit(e Entry) {
	if d.listener != nil {
		d.listener(Event{Kind: EventEntryUpdated, Entry: e})
	}
}
