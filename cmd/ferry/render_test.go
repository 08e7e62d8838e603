package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"ferry/internal/ingest"
	"ferry/internal/labbcat"
)

func TestStateLabel(t *testing.T) {
	cases := map[ingest.State]string{
		ingest.StateQueued:            "Queued",
		ingest.StateParametersPending: "Parameters Pending",
		ingest.StateDone:              "Done",
	}
	for state, want := range cases {
		if got := stateLabel(state); got != want {
			t.Fatalf("stateLabel(%q) = %q, want %q", state, got, want)
		}
	}
}

func TestPickValue(t *testing.T) {
	possible := []string{"CorpusA", "CorpusX"}
	if got := pickValue("2", possible); got != "CorpusX" {
		t.Fatalf("expected index pick, got %q", got)
	}
	if got := pickValue("3", possible); got != "3" {
		t.Fatalf("out of range index should be literal, got %q", got)
	}
	if got := pickValue("Other", nil); got != "Other" {
		t.Fatalf("expected literal, got %q", got)
	}
}

func TestCountUploadable(t *testing.T) {
	ref := &ingest.FileRef{Name: "a.eaf"}
	entries := []ingest.Entry{
		{ID: "queued", Transcript: ref, State: ingest.StateQueued},
		{ID: "failed", Transcript: ref, State: ingest.StateFailed},
		{ID: "done", Transcript: ref, State: ingest.StateDone},
		{ID: "media", State: ingest.StateQueued},
		{ID: "busy", Transcript: ref, State: ingest.StateUploading, Op: ingest.OpUpload},
	}
	if got := countUploadable(entries); got != 2 {
		t.Fatalf("expected 2 uploadable, got %d", got)
	}
}

func TestMergeSummaries(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	total := mergeSummaries(ingest.RunSummary{}, ingest.RunSummary{Kind: "upload", Started: started, Attempted: 2, Succeeded: 1, Failed: 1})
	total = mergeSummaries(total, ingest.RunSummary{Kind: "upload", Started: time.Now(), Attempted: 1, Succeeded: 1, Cancelled: true})
	if total.Attempted != 3 || total.Succeeded != 2 || total.Failed != 1 || !total.Cancelled {
		t.Fatalf("unexpected total %+v", total)
	}
	if !total.Started.Equal(started) || total.Duration < time.Minute {
		t.Fatalf("expected first start kept, got %+v", total)
	}
}

func TestPrompterConfirmParameters(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("2\n\n"), &out)
	params := []labbcat.Parameter{
		{Name: "labbcat_corpus", Label: "Corpus", Value: "CorpusA", PossibleValues: []string{"CorpusA", "CorpusX"}},
		{Name: "labbcat_episode", Label: "Episode", Value: "ep1"},
		{Name: "speaker", Value: "unknown"},
	}
	got, err := p.ConfirmParameters(t.Context(), ingest.Entry{ID: "ep1"}, params)
	if err != nil {
		t.Fatalf("ConfirmParameters: %v", err)
	}
	if got[0].Value != "CorpusX" || got[1].Value != "ep1" || got[2].Value != "unknown" {
		t.Fatalf("unexpected values %+v", got)
	}
}

func TestPrompterRequiresValue(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("\nfilled\n"), &out)
	params := []labbcat.Parameter{{Name: "speaker", Label: "Speaker", Required: true}}
	got, err := p.ConfirmParameters(t.Context(), ingest.Entry{ID: "x"}, params)
	if err != nil {
		t.Fatalf("ConfirmParameters: %v", err)
	}
	if got[0].Value != "filled" {
		t.Fatalf("expected re-prompt until filled, got %q", got[0].Value)
	}
	requireContains(t, out.String(), "Speaker is required")
}
