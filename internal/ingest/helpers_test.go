package ingest_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ferry/internal/ingest"
	"ferry/internal/labbcat"
	"ferry/internal/testsupport"
)

type harness struct {
	t        *testing.T
	server   *testsupport.FakeServer
	client   *labbcat.Client
	registry *ingest.Registry
	catalog  ingest.Catalog
	root     string
	events   *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := testsupport.NewFakeServer(t)
	client, err := labbcat.New(labbcat.Config{BaseURL: fs.URL, Retries: -1})
	if err != nil {
		t.Fatalf("labbcat.New: %v", err)
	}
	catalog, err := ingest.LoadCatalog(context.Background(), client)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return &harness{
		t:        t,
		server:   fs,
		client:   client,
		registry: ingest.NewRegistry(),
		catalog:  catalog,
		root:     t.TempDir(),
		events:   &eventLog{},
	}
}

// add writes the given files under the harness root and classifies them
// without existence lookups.
func (h *harness) add(paths ...string) ingest.Summary {
	h.t.Helper()
	var abs []string
	for _, p := range paths {
		testsupport.WriteFile(h.t, filepath.Join(h.root, filepath.FromSlash(p)), 256)
		abs = append(abs, filepath.Join(h.root, filepath.FromSlash(p)))
	}
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{TrsFolder: "trs"})
	summary, err := c.AddPaths(abs)
	if err != nil {
		h.t.Fatalf("AddPaths: %v", err)
	}
	return summary
}

func (h *harness) uploader(opts ingest.UploaderOptions) *ingest.Uploader {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Listener == nil {
		opts.Listener = h.events.record
	}
	return ingest.NewUploader(h.registry, h.client, opts)
}

func (h *harness) entry(id string) ingest.Entry {
	h.t.Helper()
	e, ok := h.registry.Get(id)
	if !ok {
		h.t.Fatalf("entry %s not found", id)
	}
	return e
}

func (h *harness) wait(u *ingest.Uploader) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.Wait(ctx); err != nil {
		h.t.Fatalf("Wait: %v", err)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []ingest.Event
}

func (l *eventLog) record(e ingest.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) progress(id string) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, e := range l.events {
		if e.Kind == ingest.EventEntryUpdated && e.Entry.ID == id {
			out = append(out, e.Entry.Progress)
		}
	}
	return out
}

func (l *eventLog) completions() []ingest.RunSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ingest.RunSummary
	for _, e := range l.events {
		if e.Kind == ingest.EventRunComplete {
			out = append(out, e.Summary)
		}
	}
	return out
}
