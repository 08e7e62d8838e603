package ingest

import (
	"context"
	"maps"
	"slices"

	"ferry/internal/labbcat"
)

// Existence is the tri-state answer to "is this transcript already stored?".
type Existence int

const (
	ExistenceUnknown Existence = iota
	ExistenceNo
	ExistenceYes
)

func (e Existence) String() string {
	switch e {
	case ExistenceNo:
		return "no"
	case ExistenceYes:
		return "yes"
	default:
		return "unknown"
	}
}

// State is an entry's position in the upload state machine.
type State string

const (
	StateQueued              State = "queued"
	StateUploading           State = "uploading"
	StateParametersPending   State = "parameters_pending"
	StateParametersSubmitted State = "parameters_submitted"
	StateProcessing          State = "processing"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// Op is the operation currently holding an entry.
type Op int

const (
	OpNone Op = iota
	OpUpload
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpUpload:
		return "upload"
	case OpDelete:
		return "delete"
	default:
		return "none"
	}
}

// FileRef points at a local file.
type FileRef struct {
	Path      string
	Name      string
	Size      int64
	MediaType string
}

// MediaTrack groups the media files of one track. The default track has an
// empty suffix.
type MediaTrack struct {
	Suffix string
	Files  []FileRef
}

// Entry is one transcript with its media, metadata and processing state.
type Entry struct {
	ID         string
	Transcript *FileRef
	Format     *labbcat.Deserializer

	Corpus         string
	Episode        string
	TranscriptType string

	// Media is ordered by first appearance of each track; files keep the
	// order they were added in.
	Media []MediaTrack
	// Dirs are the directory names the transcript was found under, outermost
	// first.
	Dirs []string

	Exists     Existence
	State      State
	Status     string
	Errors     []string
	Progress   int
	UploadID   string
	Parameters []labbcat.Parameter
	// Handles maps document ids to server task ids while processing runs.
	Handles map[string]string
	Op      Op
	// Polling is set on snapshots while a processing poll is active.
	Polling bool

	inferred      bool
	poll          context.CancelFunc
	deleteAttempt int
}

// Clone returns a deep copy that shares nothing with the registry.
func (e *Entry) Clone() Entry {
	c := *e
	if e.Transcript != nil {
		t := *e.Transcript
		c.Transcript = &t
	}
	if e.Format != nil {
		f := *e.Format
		f.FileSuffixes = slices.Clone(e.Format.FileSuffixes)
		c.Format = &f
	}
	c.Media = make([]MediaTrack, len(e.Media))
	for i, track := range e.Media {
		c.Media[i] = MediaTrack{Suffix: track.Suffix, Files: slices.Clone(track.Files)}
	}
	if len(e.Media) == 0 {
		c.Media = nil
	}
	c.Dirs = slices.Clone(e.Dirs)
	c.Errors = slices.Clone(e.Errors)
	c.Parameters = cloneParameters(e.Parameters)
	c.Handles = maps.Clone(e.Handles)
	c.Polling = e.poll != nil
	c.poll = nil
	return c
}

// TranscriptName is the transcript file name, or empty when the entry only
// holds media so far.
func (e *Entry) TranscriptName() string {
	if e.Transcript == nil {
		return ""
	}
	return e.Transcript.Name
}

// MediaFiles lists every media file across tracks in track order.
func (e *Entry) MediaFiles() []FileRef {
	var files []FileRef
	for _, track := range e.Media {
		files = append(files, track.Files...)
	}
	return files
}

// Busy reports whether an upload or delete currently holds the entry's slot.
// An entry that is only waiting on server-side processing is not busy.
func (e *Entry) Busy() bool {
	return e.Op != OpNone && e.State != StateProcessing
}

func (e *Entry) addMedia(suffix string, ref FileRef) bool {
	for i := range e.Media {
		if e.Media[i].Suffix != suffix {
			continue
		}
		for _, existing := range e.Media[i].Files {
			if existing.Path == ref.Path {
				return false
			}
		}
		e.Media[i].Files = append(e.Media[i].Files, ref)
		return true
	}
	e.Media = append(e.Media, MediaTrack{Suffix: suffix, Files: []FileRef{ref}})
	return true
}

// resetAttempt clears the per-attempt trail before a new upload or delete.
func (e *Entry) resetAttempt() {
	e.Status = ""
	e.Errors = nil
	e.Progress = 0
}

// raiseProgress keeps progress monotonic within an attempt.
func (e *Entry) raiseProgress(p int) {
	p = min(max(p, 0), 100)
	if p > e.Progress {
		e.Progress = p
	}
}

func cloneParameters(params []labbcat.Parameter) []labbcat.Parameter {
	if params == nil {
		return nil
	}
	out := make([]labbcat.Parameter, len(params))
	for i, p := range params {
		p.PossibleValues = slices.Clone(p.PossibleValues)
		out[i] = p
	}
	return out
}
