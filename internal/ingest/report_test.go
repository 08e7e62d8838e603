package ingest

import (
	"testing"

	"ferry/internal/labbcat"
)

func reportFixture() []Entry {
	return []Entry{
		{
			ID:             "a",
			Transcript:     &FileRef{Name: "a.eaf"},
			Corpus:         "CorpusX",
			Episode:        "ep1",
			TranscriptType: "interview",
			Media: []MediaTrack{
				{Suffix: "", Files: []FileRef{{Name: "a.wav"}}},
				{Suffix: "_face", Files: []FileRef{{Name: "a_face.mp4"}}},
			},
			Parameters: []labbcat.Parameter{
				{Name: "labbcat_corpus", Value: "CorpusX"},
				{Name: "note", Value: `say "hi"`},
			},
			Status: "Done",
		},
		{
			ID:             "b",
			Transcript:     &FileRef{Name: "b.trs"},
			Corpus:         "CorpusA",
			Episode:        "b",
			TranscriptType: "reading",
			Status:         `upload "failed"`,
			Errors:         []string{`line 3: unexpected "<"`, "second"},
		},
	}
}

func TestReportIsByteExact(t *testing.T) {
	want := "Transcript,Media,Corpus,Episode,Type,Parameters,Status,Errors\n" +
		"a.eaf,\"a.wav\na_face.mp4\",CorpusX,ep1,interview,\"labbcat_corpus=CorpusX\nnote=say 'hi'\",\"Done\",\"\"\n" +
		"b.trs,\"\",CorpusA,b,reading,\"\",\"upload 'failed'\",\"line 3: unexpected '<'\nsecond\"\n"
	if got := Report(reportFixture()); got != want {
		t.Fatalf("report mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestReportFollowsListOrder(t *testing.T) {
	entries := reportFixture()
	reversed := []Entry{entries[1], entries[0]}
	got := Report(reversed)
	first := "Transcript,Media,Corpus,Episode,Type,Parameters,Status,Errors\nb.trs,"
	if len(got) < len(first) || got[:len(first)] != first {
		t.Fatalf("rows should follow the given order: %q", got)
	}
}

func TestReportWithoutEntries(t *testing.T) {
	if got := Report(nil); got != ReportHeader+"\n" {
		t.Fatalf("unexpected empty report %q", got)
	}
}
