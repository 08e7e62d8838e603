package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferry/internal/labbcat"
	"ferry/internal/logging"
	"ferry/internal/services"
)

// Parameters the uploader fills from entry metadata.
const (
	ParamCorpus         = "labbcat_corpus"
	ParamEpisode        = "labbcat_episode"
	ParamTranscriptType = "labbcat_transcript_type"
)

// DefaultPollInterval is used when UploaderOptions leaves PollInterval unset.
const DefaultPollInterval = time.Second

// DefaultMaxPollFailures is used when UploaderOptions leaves MaxPollFailures
// unset.
const DefaultMaxPollFailures = 5

var errStopped = errors.New("stopped before parameter submission")

// UploadServer is the part of the server API the uploader drives.
type UploadServer interface {
	Upload(ctx context.Context, req labbcat.UploadRequest) (labbcat.UploadResult, error)
	SubmitParameters(ctx context.Context, uploadID string, params []labbcat.Parameter) (labbcat.SubmitResult, error)
	TaskStatus(ctx context.Context, taskID string) (labbcat.TaskStatus, error)
}

// Confirmer lets a user review parameters in interactive mode. It is only
// consulted when the server asks for more than the corpus, episode and type.
type Confirmer interface {
	ConfirmParameters(ctx context.Context, entry Entry, params []labbcat.Parameter) ([]labbcat.Parameter, error)
}

// UploaderOptions tunes an Uploader.
type UploaderOptions struct {
	PollInterval time.Duration
	// CancelStopsPolling makes Cancel also stop server-side processing polls.
	CancelStopsPolling bool
	// MaxPollFailures is how many consecutive failed status checks end an
	// entry's processing poll with an error.
	MaxPollFailures int
	Confirmer       Confirmer
	Listener        Listener
	Logger          *slog.Logger
}

type runState struct {
	summary   RunSummary
	active    bool
	polls     int
	completed bool
	done      chan struct{}
}

// Uploader runs entries through upload, parameter negotiation and
// processing, one entry at a time.
type Uploader struct {
	registry           *Registry
	server             UploadServer
	pollInterval       time.Duration
	cancelStopsPolling bool
	maxPollFailures    int
	confirmer          Confirmer
	listener           Listener
	logger             *slog.Logger

	mu       sync.Mutex
	running  bool
	run      *runState
	samplers map[string]*logging.ProgressSampler
}

// NewUploader builds an uploader over registry.
func NewUploader(registry *Registry, server UploadServer, opts UploaderOptions) *Uploader {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxFailures := opts.MaxPollFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxPollFailures
	}
	return &Uploader{
		registry:           registry,
		server:             server,
		pollInterval:       interval,
		cancelStopsPolling: opts.CancelStopsPolling,
		maxPollFailures:    maxFailures,
		confirmer:          opts.Confirmer,
		listener:           opts.Listener,
		logger:             logging.NewComponentLogger(opts.Logger, "uploader"),
		samplers:           make(map[string]*logging.ProgressSampler),
	}
}

func eligibleForUpload(e *Entry) bool {
	return e.Transcript != nil && e.UploadID == "" && e.State == StateQueued && e.Op == OpNone
}

// requeueForUpload resets an entry left failed or waiting on parameters by an
// earlier attempt.
func requeueForUpload(e *Entry) bool {
	if e.Transcript == nil || e.Op != OpNone {
		return false
	}
	if e.State != StateFailed && e.State != StateParametersPending {
		return false
	}
	e.UploadID = ""
	e.Parameters = nil
	e.Handles = nil
	e.State = StateQueued
	e.Status = "Queued"
	return true
}

// Run uploads queued entries until none is left, Cancel is called, or (in
// interactive mode) an entry fails. The next entry is chosen afresh each
// step, so entries added mid-run are picked up. Processing polls may outlive
// Run; use Wait to block until they finish.
func (u *Uploader) Run(ctx context.Context, mode Mode) error {
	u.mu.Lock()
	if u.run != nil && u.run.active {
		u.mu.Unlock()
		return ErrRunInProgress
	}
	requeued := u.registry.each(requeueForUpload)
	if !u.registry.any(eligibleForUpload) {
		u.mu.Unlock()
		u.emitAll(requeued)
		return ErrNothingToUpload
	}
	run := &runState{
		summary: RunSummary{Kind: "upload", Mode: mode, Started: time.Now()},
		active:  true,
		done:    make(chan struct{}),
	}
	u.run = run
	u.running = true
	u.mu.Unlock()
	u.emitAll(requeued)

	u.logger.Info("upload run started",
		logging.String("mode", mode.String()),
		logging.String(logging.FieldEventType, "run_started"),
	)

	var result error
	for {
		if !u.Running() || ctx.Err() != nil {
			result = ErrRunCancelled
			break
		}
		entry, ok := u.registry.claim(eligibleForUpload, func(e *Entry) {
			e.Op = OpUpload
			e.State = StateUploading
			e.resetAttempt()
			e.Status = "Uploading"
		})
		if !ok {
			break
		}
		u.emit(entry)
		u.mu.Lock()
		run.summary.Attempted++
		if sampler, ok := u.samplers[entry.ID]; ok {
			sampler.Reset()
		} else {
			u.samplers[entry.ID] = logging.NewProgressSampler(25)
		}
		u.mu.Unlock()

		err := u.uploadEntry(ctx, run, entry, mode)
		if err == nil {
			continue
		}
		if errors.Is(err, errStopped) {
			result = ErrRunCancelled
			break
		}
		u.mu.Lock()
		run.summary.Failed++
		u.mu.Unlock()
		if mode == ModeInteractive {
			result = &HaltError{EntryID: entry.ID, Err: err}
			break
		}
	}

	u.mu.Lock()
	run.active = false
	u.running = false
	if errors.Is(result, ErrRunCancelled) {
		run.summary.Cancelled = true
	}
	u.mu.Unlock()
	u.maybeComplete(run)
	return result
}

// Running reports whether the current run may start new work.
func (u *Uploader) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Cancel stops the run from starting another entry or submitting parameters.
// In-flight requests finish and update their own entry. Processing polls keep
// running unless CancelStopsPolling was set.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	u.running = false
	stopPolls := u.cancelStopsPolling
	u.mu.Unlock()
	u.logger.Info("upload run cancelled", logging.String(logging.FieldEventType, "run_cancelled"))
	if stopPolls {
		u.StopPolling()
	}
}

// StopPolling stops every active processing poll.
func (u *Uploader) StopPolling() {
	u.registry.each(func(e *Entry) bool {
		if e.poll != nil {
			e.poll()
		}
		return false
	})
}

// Abandon stops the processing poll of one entry.
func (u *Uploader) Abandon(id string) error {
	var polling bool
	_, ok := u.registry.update(NormalizeID(id), func(e *Entry) {
		if e.poll != nil {
			polling = true
			e.poll()
		}
	})
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	case !polling:
		return fmt.Errorf("entry %s is not processing", id)
	}
	return nil
}

// Retry re-queues a failed entry so the next Run picks it up.
func (u *Uploader) Retry(id string) error {
	var requeued bool
	snapshot, ok := u.registry.update(NormalizeID(id), func(e *Entry) {
		requeued = requeueForUpload(e)
	})
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	case !requeued:
		return fmt.Errorf("entry %s cannot be retried in state %s", id, snapshot.State)
	}
	u.emit(snapshot)
	return nil
}

// Wait blocks until the latest run and all of its processing polls are done.
func (u *Uploader) Wait(ctx context.Context) error {
	u.mu.Lock()
	run := u.run
	u.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary returns the latest run's summary.
func (u *Uploader) Summary() RunSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.run == nil {
		return RunSummary{Kind: "upload"}
	}
	return u.run.summary
}

func (u *Uploader) uploadEntry(ctx context.Context, run *runState, entry Entry, mode Mode) error {
	ctx = services.WithEntryID(ctx, entry.ID)
	ctx = services.WithStage(ctx, "upload")
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, u.logger)

	req := labbcat.UploadRequest{
		TranscriptPath: entry.Transcript.Path,
		Update:         entry.Exists == ExistenceYes,
		Progress: func(sent, total int64) {
			u.uploadProgress(entry.ID, sent, total)
		},
	}
	for _, track := range entry.Media {
		for _, f := range track.Files {
			req.Media = append(req.Media, labbcat.MediaFile{Suffix: track.Suffix, Path: f.Path})
		}
	}
	logger.Info("uploading transcript",
		logging.String("transcript", entry.Transcript.Name),
		logging.Int("media", len(req.Media)),
		logging.Bool("update", req.Update),
	)

	result, err := u.server.Upload(ctx, req)
	if err != nil {
		return u.fail(logger, entry.ID, "upload", err)
	}

	params := prefillParameters(result.Parameters, entry)
	snapshot, ok := u.registry.update(entry.ID, func(e *Entry) {
		e.UploadID = result.UploadID
		e.Parameters = cloneParameters(params)
		e.State = StateParametersPending
		e.raiseProgress(50)
		e.Status = "Uploaded"
	})
	if !ok {
		return nil
	}
	u.emit(snapshot)

	if !u.Running() {
		return u.stop(logger, entry.ID)
	}
	if mode == ModeInteractive && u.confirmer != nil && hasUnknownParameters(params) {
		confirmed, err := u.confirmer.ConfirmParameters(ctx, snapshot, cloneParameters(params))
		if err != nil {
			return u.fail(logger, entry.ID, "parameters", err)
		}
		params = confirmed
		if !u.Running() {
			return u.stop(logger, entry.ID)
		}
	}

	snapshot, _ = u.registry.update(entry.ID, func(e *Entry) {
		e.Parameters = cloneParameters(params)
		e.State = StateParametersSubmitted
		e.Status = "Parameters submitted"
	})
	u.emit(snapshot)

	ctx = services.WithStage(ctx, "parameters")
	submitted, err := u.server.SubmitParameters(ctx, result.UploadID, params)
	if err != nil {
		return u.fail(logger, entry.ID, "parameters", err)
	}
	u.startProcessing(ctx, run, entry.ID, submitted)
	return nil
}

func (u *Uploader) uploadProgress(id string, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 50 / total)
	snapshot, changed := u.registry.updateIf(id, func(e *Entry) bool {
		if e.State != StateUploading || pct <= e.Progress {
			return false
		}
		e.raiseProgress(pct)
		return true
	})
	if changed {
		u.emit(snapshot)
		u.logProgress(snapshot, "upload")
	}
}

// fail records an upload or parameter failure on the entry and frees it.
func (u *Uploader) fail(logger *slog.Logger, id, stage string, err error) error {
	message := errorText(err)
	snapshot, ok := u.registry.update(id, func(e *Entry) {
		e.State = StateFailed
		e.Op = OpNone
		e.Status = stage + " failed"
		e.Errors = append(e.Errors, message)
	})
	if ok {
		u.emit(snapshot)
	}
	u.mu.Lock()
	delete(u.samplers, id)
	u.mu.Unlock()
	logger.Error("entry failed",
		logging.String(logging.FieldStage, stage),
		logging.Error(err),
		logging.String(logging.FieldEventType, stage+"_failed"),
		logging.String(logging.FieldErrorHint, "fix the entry and run the upload again"),
	)
	return services.Wrap(classify(err), stage, id, "", err)
}

// stop frees an entry whose upload finished after Cancel. It stays
// ParametersPending and is re-queued by the next Run.
func (u *Uploader) stop(logger *slog.Logger, id string) error {
	snapshot, ok := u.registry.update(id, func(e *Entry) {
		e.Op = OpNone
		e.Status = "Cancelled before parameters were submitted"
	})
	if ok {
		u.emit(snapshot)
	}
	logger.Info("entry left awaiting parameters after cancel")
	return errStopped
}

func (u *Uploader) startProcessing(ctx context.Context, run *runState, id string, submitted labbcat.SubmitResult) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pollCtx = services.WithStage(pollCtx, "processing")
	handles := maps.Clone(submitted.Handles)

	snapshot, ok := u.registry.update(id, func(e *Entry) {
		e.Handles = maps.Clone(handles)
		if len(submitted.Parameters) > 0 {
			e.Parameters = cloneParameters(submitted.Parameters)
		}
		e.State = StateProcessing
		e.Status = "Processing"
		if len(handles) > 0 {
			e.poll = cancel
		}
	})
	if !ok {
		cancel()
		return
	}
	if len(handles) == 0 {
		cancel()
		u.finish(run, id)
		return
	}
	u.emit(snapshot)

	u.mu.Lock()
	run.polls++
	u.mu.Unlock()
	go u.poll(pollCtx, cancel, run, id, handles)
}

// poll watches an entry's processing tasks until none is running.
func (u *Uploader) poll(ctx context.Context, cancel context.CancelFunc, run *runState, id string, handles map[string]string) {
	defer u.pollDone(run)
	defer cancel()

	logger := logging.WithContext(ctx, u.logger)
	ticker := time.NewTicker(u.pollInterval)
	defer ticker.Stop()

	remaining := maps.Clone(handles)
	percents := make(map[string]int, len(handles))
	failures := 0
	for {
		select {
		case <-ctx.Done():
			u.abandoned(logger, id)
			return
		case <-ticker.C:
		}

		var (
			taskErrors []string
			pollErr    error
		)
		status := ""
		for _, doc := range slices.Sorted(maps.Keys(remaining)) {
			st, err := u.server.TaskStatus(ctx, remaining[doc])
			switch {
			case errors.Is(err, labbcat.ErrNotFound):
				delete(remaining, doc)
				percents[doc] = 100
			case err != nil:
				if ctx.Err() == nil {
					pollErr = err
					logging.WarnWithContext(logger, "task poll failed; retrying", "task_poll_failed",
						logging.String("document", doc),
						logging.Int("failures", failures+1),
						logging.Error(err),
					)
				}
			case !st.Running:
				delete(remaining, doc)
				percents[doc] = 100
				status = st.Status
				if st.Error != "" {
					taskErrors = append(taskErrors, doc+": "+st.Error)
				}
			default:
				percents[doc] = st.PercentComplete
				status = st.Status
			}
		}

		if pollErr == nil {
			failures = 0
		} else {
			failures++
			if failures >= u.maxPollFailures {
				u.pollFailed(logger, run, id, failures, pollErr)
				return
			}
		}

		sum := 0
		for _, p := range percents {
			sum += p
		}
		overall := sum / len(handles)
		snapshot, ok := u.registry.update(id, func(e *Entry) {
			e.Handles = maps.Clone(remaining)
			e.Errors = append(e.Errors, taskErrors...)
			e.raiseProgress(50 + overall/2)
			if status != "" {
				e.Status = status
			}
		})
		if !ok {
			return
		}
		if len(remaining) == 0 {
			u.finish(run, id)
			return
		}
		u.emit(snapshot)
		u.logProgress(snapshot, "processing")
	}
}

// pollFailed ends processing for an entry whose status could not be read
// for too many consecutive checks. The transcript is on the server, so the
// entry finishes with the error instead of going back to the queue.
func (u *Uploader) pollFailed(logger *slog.Logger, run *runState, id string, failures int, err error) {
	wrapped := services.Wrap(classify(err), "processing", "status", fmt.Sprintf("no status after %d checks", failures), err)
	_, ok := u.registry.updateIf(id, func(e *Entry) bool {
		if e.State != StateProcessing {
			return false
		}
		e.Errors = append(e.Errors, errorText(wrapped))
		return true
	})
	if !ok {
		return
	}
	logger.Error("processing status unavailable",
		logging.Int("failures", failures),
		logging.Error(err),
		logging.String(logging.FieldEventType, "processing_poll_failed"),
		logging.String(logging.FieldErrorHint, "check the task on the server; the transcript was uploaded"),
	)
	u.finish(run, id)
}

// abandoned marks an entry whose poll was stopped before processing ended.
func (u *Uploader) abandoned(logger *slog.Logger, id string) {
	snapshot, ok := u.registry.updateIf(id, func(e *Entry) bool {
		if e.State != StateProcessing {
			return false
		}
		e.poll = nil
		e.Op = OpNone
		e.State = StateFailed
		e.Status = "Processing no longer tracked"
		e.Errors = append(e.Errors, "processing poll stopped before the server finished")
		return true
	})
	if ok {
		u.emit(snapshot)
		logger.Info("processing poll stopped")
	}
}

func (u *Uploader) finish(run *runState, id string) {
	snapshot, ok := u.registry.update(id, func(e *Entry) {
		e.Handles = nil
		e.poll = nil
		e.Op = OpNone
		e.State = StateDone
		e.Exists = ExistenceYes
		e.raiseProgress(100)
		if len(e.Errors) > 0 {
			e.Status = "Finished with errors"
		} else {
			e.Status = "Done"
		}
	})
	if !ok {
		return
	}
	u.mu.Lock()
	if len(snapshot.Errors) > 0 {
		run.summary.Failed++
	} else {
		run.summary.Succeeded++
	}
	delete(u.samplers, id)
	u.mu.Unlock()

	u.emit(snapshot)
	u.logger.Info("entry ingested",
		logging.String(logging.FieldEntryID, id),
		logging.Int("errors", len(snapshot.Errors)),
		logging.String(logging.FieldEventType, "entry_done"),
	)
}

func (u *Uploader) pollDone(run *runState) {
	u.mu.Lock()
	run.polls--
	u.mu.Unlock()
	u.maybeComplete(run)
}

// maybeComplete fires EventRunComplete once the sequential phase is over and
// no poll of the run is left.
func (u *Uploader) maybeComplete(run *runState) {
	u.mu.Lock()
	if run.completed || run.active || run.polls > 0 {
		u.mu.Unlock()
		return
	}
	run.completed = true
	run.summary.Duration = time.Since(run.summary.Started)
	summary := run.summary
	close(run.done)
	u.mu.Unlock()

	u.logger.Info("upload run complete",
		logging.String("mode", summary.Mode.String()),
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Bool("cancelled", summary.Cancelled),
		logging.Duration("duration", summary.Duration),
		logging.String(logging.FieldEventType, "run_complete"),
	)
	if u.listener != nil {
		u.listener(Event{Kind: EventRunComplete, Summary: summary})
	}
}

func (u *Uploader) logProgress(e Entry, stage string) {
	u.mu.Lock()
	sampler := u.samplers[e.ID]
	emit := sampler != nil && sampler.ShouldLog(e.Progress, stage)
	u.mu.Unlock()
	if emit {
		u.logger.Info("progress",
			logging.String(logging.FieldEntryID, e.ID),
			logging.String(logging.FieldStage, stage),
			logging.Int("percent", e.Progress),
		)
	}
}

func (u *Uploader) emit(e Entry) {
	if u.listener != nil {
		u.listener(Event{Kind: EventEntryUpdated, Entry: e})
	}
}

func (u *Uploader) emitAll(entries []Entry) {
	for _, e := range entries {
		u.emit(e)
	}
}

// prefillParameters fills the known parameters from entry metadata and keeps
// server defaults for the rest.
func prefillParameters(params []labbcat.Parameter, e Entry) []labbcat.Parameter {
	out := cloneParameters(params)
	for i := range out {
		switch out[i].Name {
		case ParamCorpus:
			out[i].Value = e.Corpus
		case ParamEpisode:
			out[i].Value = e.Episode
		case ParamTranscriptType:
			out[i].Value = e.TranscriptType
		}
	}
	return out
}

func hasUnknownParameters(params []labbcat.Parameter) bool {
	for _, p := range params {
		switch p.Name {
		case ParamCorpus, ParamEpisode, ParamTranscriptType:
		default:
			return true
		}
	}
	return false
}

// errorText is the message recorded in an entry's error list.
func errorText(err error) string {
	var remote *labbcat.RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}
	return services.Message(err)
}

func classify(err error) error {
	var remote *labbcat.RemoteError
	switch {
	case errors.Is(err, labbcat.ErrNotFound):
		return services.ErrNotFound
	case errors.As(err, &remote):
		return services.ErrRemote
	case errors.Is(err, context.DeadlineExceeded):
		return services.ErrTimeout
	case labbcat.IsRetriable(err):
		return services.ErrTransient
	default:
		return services.ErrRemote
	}
}
