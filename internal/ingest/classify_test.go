package ingest_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"ferry/internal/ingest"
	"ferry/internal/testsupport"
)

func TestTranscriptAndMediaShareEntry(t *testing.T) {
	h := newHarness(t)
	summary := h.add("a.eaf", "a.wav")

	if summary.Transcripts != 1 || summary.Media != 1 || summary.NewEntries != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("expected one entry, got %d", h.registry.Len())
	}
	e := h.entry("a")
	if e.TranscriptName() != "a.eaf" || e.Format == nil || e.Format.Name != "ELAN" {
		t.Fatalf("transcript not registered: %+v", e)
	}
	if len(e.Media) != 1 || e.Media[0].Suffix != "" || len(e.Media[0].Files) != 1 || e.Media[0].Files[0].Name != "a.wav" {
		t.Fatalf("media not under default track: %+v", e.Media)
	}
	if e.Corpus != "CorpusA" || e.Episode != "a" || e.TranscriptType != "interview" {
		t.Fatalf("defaults not inferred: %+v", e)
	}
	if e.Exists != ingest.ExistenceUnknown || e.State != ingest.StateQueued {
		t.Fatalf("unexpected initial state %+v", e)
	}
}

func TestCSVDiscardedAlongsideTranscripts(t *testing.T) {
	h := newHarness(t)
	summary := h.add("results.csv", "a.eaf")
	if summary.Discarded != 1 || h.registry.Len() != 1 {
		t.Fatalf("csv should be discarded: %+v entries=%d", summary, h.registry.Len())
	}

	// A later csv drop is still guarded by the registered transcript.
	summary = h.add("later.csv")
	if summary.Discarded != 1 || h.registry.Len() != 1 {
		t.Fatalf("later csv should be discarded: %+v", summary)
	}
}

func TestCSVOnlyDropIsTranscripts(t *testing.T) {
	h := newHarness(t)
	summary := h.add("one.csv", "two.csv")
	if summary.Transcripts != 2 || summary.Discarded != 0 {
		t.Fatalf("csv-only drop should register transcripts: %+v", summary)
	}
	if e := h.entry("one"); e.Format == nil || e.Format.Name != "CSV" {
		t.Fatalf("csv transcript not registered: %+v", e)
	}
}

func TestUnknownFilesIgnoredSilently(t *testing.T) {
	h := newHarness(t)
	summary := h.add("notes.txt", "README", "a.eaf")
	if summary.Ignored != 2 || h.registry.Len() != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestAllowListedExtensionsAreMedia(t *testing.T) {
	h := newHarness(t)
	summary := h.add("x.mpeg", "y.avi", "z.gif")
	if summary.Media != 3 || h.registry.Len() != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if e := h.entry("x"); e.Transcript != nil {
		t.Fatalf("media-only entry should have no transcript: %+v", e)
	}
}

func TestTrackSuffixGroupsMedia(t *testing.T) {
	h := newHarness(t)
	h.add("a.eaf", "a.wav", "a_face.mp4")
	if h.registry.Len() != 1 {
		t.Fatalf("expected suffixed media to join entry a, got %d entries", h.registry.Len())
	}
	e := h.entry("a")
	if len(e.Media) != 2 || e.Media[1].Suffix != "_face" || e.Media[1].Files[0].Name != "a_face.mp4" {
		t.Fatalf("unexpected tracks %+v", e.Media)
	}
}

func TestDirectoryInference(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteTree(t, filepath.Join(h.root, "CorpusX"), "ep1/trs/file1.eaf", "ep1/file1.wav")
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{TrsFolder: "trs"})
	if _, err := c.AddPaths([]string{filepath.Join(h.root, "CorpusX")}); err != nil {
		t.Fatalf("AddPaths: %v", err)
	}
	e := h.entry("file1")
	if e.Corpus != "CorpusX" || e.Episode != "ep1" {
		t.Fatalf("expected CorpusX/ep1, got %q/%q", e.Corpus, e.Episode)
	}
	if len(e.MediaFiles()) != 1 {
		t.Fatalf("expected media grouped, got %+v", e.Media)
	}
}

func TestDirectoryInferenceFromWorkingDirectory(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteTree(t, filepath.Join(h.root, "CorpusX"), "ep1/file1.eaf", "ep1/trs/file2.eaf")
	t.Chdir(filepath.Join(h.root, "CorpusX", "ep1"))

	candidates, err := ingest.Expand([]string{"."})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{TrsFolder: "trs"})
	c.Add(candidates)
	for _, id := range []string{"file1", "file2"} {
		e := h.entry(id)
		if e.Corpus != "CorpusX" || e.Episode != "ep1" {
			t.Fatalf("%s: expected CorpusX/ep1, got %q/%q", id, e.Corpus, e.Episode)
		}
	}
}

func TestKnownMimeTypeOverridesExtensionList(t *testing.T) {
	h := newHarness(t)
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{MediaExtensions: []string{"txt", "raw"}})
	summary := c.Add([]ingest.Candidate{
		{Path: filepath.Join(h.root, "notes.txt"), Name: "notes.txt", MediaType: "text/plain"},
		{Path: filepath.Join(h.root, "take.raw"), Name: "take.raw"},
		{Path: filepath.Join(h.root, "clip.ogg"), Name: "clip.ogg", MediaType: "audio/ogg"},
	})
	if summary.Media != 2 || summary.Ignored != 1 {
		t.Fatalf("expected 2 media and 1 ignored, got %+v", summary)
	}
	if _, ok := h.registry.Get("notes"); ok {
		t.Fatal("text file with a listed extension should be ignored")
	}
	for _, id := range []string{"take", "clip"} {
		if e := h.entry(id); len(e.MediaFiles()) != 1 {
			t.Fatalf("%s: expected one media file, got %+v", id, e.Media)
		}
	}
}

func TestInferenceRunsOnce(t *testing.T) {
	h := newHarness(t)
	h.add("a.eaf")
	if err := h.registry.SetMetadata("a", ingest.Metadata{Corpus: "CorpusX", Episode: "mine", TranscriptType: "reading"}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	testsupport.WriteTree(t, filepath.Join(h.root, "CorpusA"), "ep9/a.trs")
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{})
	if _, err := c.AddPaths([]string{filepath.Join(h.root, "CorpusA")}); err != nil {
		t.Fatal(err)
	}
	e := h.entry("a")
	if e.TranscriptName() != "a.trs" {
		t.Fatalf("transcript should be replaced, got %q", e.TranscriptName())
	}
	if e.Episode != "mine" || e.Corpus != "CorpusX" {
		t.Fatalf("user metadata overwritten by second inference: %+v", e)
	}
}

func TestEntryCountIndependentOfOrder(t *testing.T) {
	names := []string{"a.eaf", "a.wav", "b.trs", "b.mp3", "c.png", "d.textgrid", "junk.txt", "e.wav", "e.jpg"}
	want := 5
	for round := range 5 {
		h := newHarness(t)
		shuffled := append([]string(nil), names...)
		rand.New(rand.NewPCG(uint64(round), 7)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		h.add(shuffled...)
		if h.registry.Len() != want {
			t.Fatalf("order %v produced %d entries, want %d", shuffled, h.registry.Len(), want)
		}
	}
}

func TestResolverMarksExistingTranscripts(t *testing.T) {
	h := newHarness(t)
	h.server.AddTranscript("a.eaf", testsupport.FakeTranscript{Corpus: "CorpusX", Episode: "ep9", TranscriptType: "reading"})

	resolver := ingest.NewResolver(context.Background(), h.registry, h.client, 2, nil)
	resolver.SetListener(h.events.record)
	testsupport.WriteTree(t, h.root, "a.eaf", "b.eaf")
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{Resolver: resolver})
	if _, err := c.AddPaths([]string{filepath.Join(h.root, "a.eaf"), filepath.Join(h.root, "b.eaf")}); err != nil {
		t.Fatal(err)
	}
	resolver.Wait()

	a := h.entry("a")
	if a.Exists != ingest.ExistenceYes || a.Corpus != "CorpusX" || a.Episode != "ep9" || a.TranscriptType != "reading" {
		t.Fatalf("existing transcript not resolved: %+v", a)
	}
	if b := h.entry("b"); b.Exists != ingest.ExistenceNo || b.Corpus != "CorpusA" {
		t.Fatalf("new transcript should be marked absent with inferred metadata: %+v", b)
	}
	if h.server.Lookups() != 2 {
		t.Fatalf("expected one lookup per transcript, got %d", h.server.Lookups())
	}
	if err := h.registry.SetMetadata("a", ingest.Metadata{}); !errors.Is(err, ingest.ErrEntryLocked) {
		t.Fatalf("existing transcript metadata should be locked, got %v", err)
	}
	if len(h.events.progress("a")) == 0 {
		t.Fatal("resolver should publish entry updates")
	}
}

func TestResolverIgnoresServerErrors(t *testing.T) {
	h := newHarness(t)
	h.server.Close()

	resolver := ingest.NewResolver(context.Background(), h.registry, h.client, 1, nil)
	testsupport.WriteTree(t, h.root, "a.eaf")
	c := ingest.NewClassifier(h.registry, h.catalog, ingest.ClassifierOptions{Resolver: resolver})
	if _, err := c.AddPaths([]string{filepath.Join(h.root, "a.eaf")}); err != nil {
		t.Fatal(err)
	}
	resolver.Wait()
	if e := h.entry("a"); e.Exists != ingest.ExistenceUnknown || len(e.Errors) != 0 {
		t.Fatalf("lookup failure should leave entry untouched: %+v", e)
	}
}
