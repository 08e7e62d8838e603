package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ferry/internal/labbcat"
	"ferry/internal/logging"
	"ferry/internal/services"
)

// AttributeLookup fetches the stored metadata of a transcript by file name.
type AttributeLookup interface {
	TranscriptAttributes(ctx context.Context, id string) (labbcat.TranscriptAttributes, error)
}

// Resolver checks in the background whether transcripts already exist on
// the server. Misses and errors are silent: the entry is simply treated as new.
type Resolver struct {
	ctx      context.Context
	registry *Registry
	lookup   AttributeLookup
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
	listener Listener
}

// NewResolver returns a resolver running at most concurrency lookups at once.
// Lookups stop when ctx is cancelled.
func NewResolver(ctx context.Context, registry *Registry, lookup AttributeLookup, concurrency int, logger *slog.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{
		ctx:      ctx,
		registry: registry,
		lookup:   lookup,
		sem:      make(chan struct{}, concurrency),
		logger:   logging.NewComponentLogger(logger, "resolver"),
	}
}

// SetListener receives an EventEntryUpdated for every entry a lookup changes.
func (r *Resolver) SetListener(l Listener) {
	r.listener = l
}

// Check queues a lookup of transcriptName for entry id.
func (r *Resolver) Check(id, transcriptName string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
		case <-r.ctx.Done():
			return
		}
		defer func() { <-r.sem }()
		r.resolve(id, transcriptName)
	}()
}

// Wait blocks until every queued lookup has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) resolve(id, name string) {
	ctx := services.WithEntryID(r.ctx, id)
	ctx = services.WithStage(ctx, "existence")
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger)

	attrs, err := r.lookup.TranscriptAttributes(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, labbcat.ErrNotFound):
	default:
		logger.Debug("existence check failed; treating as new", logging.Error(err))
		return
	}

	snapshot, changed := r.registry.updateIf(id, func(e *Entry) bool {
		// The transcript may have been replaced or the upload started while
		// the lookup was in flight.
		if e.TranscriptName() != name || e.Op != OpNone || e.UploadID != "" {
			return false
		}
		if err != nil {
			e.Exists = ExistenceNo
			return true
		}
		e.Exists = ExistenceYes
		if attrs.Corpus != "" {
			e.Corpus = attrs.Corpus
		}
		if attrs.Episode != "" {
			e.Episode = attrs.Episode
		}
		if attrs.TranscriptType != "" {
			e.TranscriptType = attrs.TranscriptType
		}
		return true
	})
	if !changed {
		return
	}
	logger.Debug("existence resolved", logging.String("exists", snapshot.Exists.String()))
	if r.listener != nil {
		r.listener(Event{Kind: EventEntryUpdated, Entry: snapshot})
	}
}
