package ingest

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNothingToUpload reports a run with no queued transcript.
	ErrNothingToUpload = errors.New("nothing to upload")
	// ErrNothingToDelete reports a run with no existing transcript.
	ErrNothingToDelete = errors.New("nothing to delete")
	// ErrRunInProgress reports a second Run while one is active.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrRunCancelled is returned by Run after Cancel stopped it early.
	ErrRunCancelled = errors.New("run cancelled")
)

// HaltError stops an interactive upload run at the entry that failed. The run
// resumes only when Run is called again.
type HaltError struct {
	EntryID string
	Err     error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("upload halted at %s: %v", e.EntryID, e.Err)
}

func (e *HaltError) Unwrap() error { return e.Err }

// Mode selects how the uploader negotiates parameters and handles failures.
type Mode int

const (
	// ModeInteractive asks for parameter confirmation and halts on failure.
	ModeInteractive Mode = iota
	// ModeBatch submits server defaults and continues past failures.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "interactive"
}

// EventKind distinguishes orchestrator events.
type EventKind int

const (
	// EventEntryUpdated carries a fresh entry snapshot.
	EventEntryUpdated EventKind = iota
	// EventRunComplete fires once per run, after the last entry's processing
	// finished.
	EventRunComplete
)

// RunSummary describes a finished run.
type RunSummary struct {
	Kind      string
	Mode      Mode
	Started   time.Time
	Duration  time.Duration
	Attempted int
	Succeeded int
	Failed    int
	Cancelled bool
}

// Event is delivered to a Listener.
type Event struct {
	Kind    EventKind
	Entry   Entry
	Summary RunSummary
}

// Listener observes orchestrator progress. It may be called from several
// goroutines at once and must not block.
type Listener func(Event)
