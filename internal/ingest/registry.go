package ingest

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrEntryNotFound reports an unknown entry id.
	ErrEntryNotFound = errors.New("ingest: entry not found")
	// ErrEntryLocked reports an edit to metadata that can no longer change.
	ErrEntryLocked = errors.New("ingest: entry metadata is locked")
	// ErrEntryBusy reports a removal while an upload or delete holds the entry.
	ErrEntryBusy = errors.New("ingest: entry is busy")
)

// NormalizeID maps a file base name to its entry id. Names are NFC-normalized
// so composed and decomposed spellings group together.
func NormalizeID(name string) string {
	return norm.NFC.String(name)
}

// Metadata is the user-editable structural metadata of an entry.
type Metadata struct {
	Corpus         string
	Episode        string
	TranscriptType string
}

// Registry is the ordered, id-unique set of entries. It is safe for
// concurrent use; callers only ever see snapshots.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Entries returns snapshots of every entry in insertion order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Clone())
	}
	return out
}

// Get returns a snapshot of the entry with the given id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[NormalizeID(id)]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// SetMetadata applies a user edit. Metadata is fixed once an upload has begun
// and for transcripts that already exist on the server.
func (r *Registry) SetMetadata(id string, md Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[NormalizeID(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if e.Exists == ExistenceYes || e.Op != OpNone || e.UploadID != "" {
		return fmt.Errorf("%w: %s", ErrEntryLocked, id)
	}
	e.Corpus = md.Corpus
	e.Episode = md.Episode
	e.TranscriptType = md.TranscriptType
	return nil
}

// Remove deletes an entry. An entry that is only waiting on server-side
// processing has its poll stopped first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := NormalizeID(id)
	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if e.Busy() {
		return fmt.Errorf("%w: %s", ErrEntryBusy, id)
	}
	r.drop(key)
	return nil
}

// Clear removes every entry. Nothing is removed if any entry is busy.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if r.entries[id].Busy() {
			return fmt.Errorf("%w: %s", ErrEntryBusy, id)
		}
	}
	for _, id := range append([]string(nil), r.order...) {
		r.drop(id)
	}
	return nil
}

func (r *Registry) drop(id string) {
	e := r.entries[id]
	if e.poll != nil {
		e.poll()
		e.poll = nil
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// upsert returns the entry for id, creating it at the end of the order when
// absent. The caller holds r.mu.
func (r *Registry) upsert(id string) (*Entry, bool) {
	if e, ok := r.entries[id]; ok {
		return e, false
	}
	e := &Entry{ID: id, State: StateQueued}
	r.entries[id] = e
	r.order = append(r.order, id)
	return e, true
}

// update applies fn to the entry under the lock and returns the new snapshot.
func (r *Registry) update(id string, fn func(*Entry)) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	fn(e)
	return e.Clone(), true
}

// claim finds the first entry in order matching pred, applies fn to it and
// returns the snapshot. Selection and mutation happen under one lock so two
// orchestrators can never claim the same entry.
func (r *Registry) claim(pred func(*Entry) bool, fn func(*Entry)) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		e := r.entries[id]
		if pred(e) {
			fn(e)
			return e.Clone(), true
		}
	}
	return Entry{}, false
}

// any reports whether some entry matches pred.
func (r *Registry) any(pred func(*Entry) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if pred(r.entries[id]) {
			return true
		}
	}
	return false
}

// each applies fn to every entry in order and returns the snapshots of those
// for which fn reported a change.
func (r *Registry) each(fn func(*Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []Entry
	for _, id := range r.order {
		e := r.entries[id]
		if fn(e) {
			changed = append(changed, e.Clone())
		}
	}
	return changed
}

// updateIf applies fn under the lock; fn reports whether it changed anything.
func (r *Registry) updateIf(id string, fn func(*Entry) bool) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !fn(e) {
		return Entry{}, false
	}
	return e.Clone(), true
}
