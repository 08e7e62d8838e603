package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"ferry/internal/ingest"
	"ferry/internal/testsupport"
)

func TestScanShowsInferredEntries(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddTranscript("ep2.eaf", testsupport.FakeTranscript{Corpus: "CorpusX", Episode: "ep2", TranscriptType: "reading"})
	dir := env.files(t, "CorpusA/ep1/ep1.eaf", "CorpusA/ep1/ep1.wav", "CorpusA/ep2/ep2.eaf", "notes.txt")

	out, _, err := runCLI(t, env, "", "scan", dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "ep1.eaf")
	requireContains(t, out, "ep1.wav")
	requireContains(t, out, "CorpusA")
	requireContains(t, out, "CorpusX")
	requireContains(t, out, "2 transcripts, 1 media files, 1 ignored")
	if len(env.server.UploadOrder()) != 0 {
		t.Fatalf("scan must not upload, got %v", env.server.UploadOrder())
	}
}

func TestUploadBatchRecordsRunAndWritesReport(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.files(t, "CorpusA/ep1/ep1.eaf", "CorpusA/ep1/ep1.wav", "CorpusA/ep1/ep1_face.mp4")
	reportPath := filepath.Join(testsupport.BaseDir(env.cfg), "report.csv")

	out, _, err := runCLI(t, env, "", "upload", "--batch", "--report", reportPath, dir)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	requireContains(t, out, "Uploaded 1 of 1")

	stored, ok := env.server.Transcript("ep1.eaf")
	if !ok {
		t.Fatal("expected transcript on server")
	}
	if stored.Corpus != "CorpusA" || stored.Episode != "ep1" || stored.TranscriptType != "interview" {
		t.Fatalf("unexpected stored metadata %+v", stored)
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	lines := strings.Split(string(report), "\n")
	if lines[0] != ingest.ReportHeader {
		t.Fatalf("unexpected header %q", lines[0])
	}
	requireContains(t, string(report), "ep1.eaf,\"ep1.wav\nep1_face.mp4\",CorpusA,ep1,interview")

	j := testsupport.MustOpenJournal(t, env.cfg)
	runs, err := j.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != "upload" || runs[0].Mode != "batch" || runs[0].Succeeded != 1 || !runs[0].Finished() {
		t.Fatalf("unexpected runs %+v", runs)
	}

	history, _, err := runCLI(t, env, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, history, runs[0].ID[:8])
	requireContains(t, history, "Upload")

	regenerated, _, err := runCLI(t, env, "", "report", runs[0].ID[:8])
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if regenerated != string(report) {
		t.Fatalf("regenerated report differs:\n%s\nvs\n%s", regenerated, report)
	}
}

func TestUploadInteractiveHaltsAtFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.FailUpload("a.eaf", "disk full")
	dir := env.files(t, "a.eaf", "b.eaf")

	out, _, err := runCLI(t, env, "n\n", "upload", dir)
	var halt *ingest.HaltError
	if !errors.As(err, &halt) || halt.EntryID != "a" {
		t.Fatalf("expected halt at a, got %v", err)
	}
	requireContains(t, out, "Upload of a failed")
	if got := env.server.UploadOrder(); !slices.Equal(got, []string{"a.eaf"}) {
		t.Fatalf("expected only a.eaf attempted, got %v", got)
	}
}

func TestUploadInteractiveRetryResumes(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.FailUpload("a.eaf", "disk full")
	dir := env.files(t, "a.eaf")

	// Retry once, then decline: the failure is permanent on the fake server.
	out, _, err := runCLI(t, env, "y\nn\n", "upload", dir)
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := env.server.UploadOrder(); !slices.Equal(got, []string{"a.eaf", "a.eaf"}) {
		t.Fatalf("expected two attempts, got %v", got)
	}
	requireContains(t, out, "Uploaded 0 of 2, 2 failed")
}

func TestUploadInteractivePromptsForExtraParameters(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddParameter("speaker", "Main speaker", "unknown")
	dir := env.files(t, "CorpusX/ep1.eaf")

	// Keep corpus, episode and type; answer the extra parameter.
	out, _, err := runCLI(t, env, "\n\n\nAlice\n", "upload", dir)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	requireContains(t, out, "Main speaker [unknown]")
	form := env.server.Submitted("ep1.eaf")
	if form.Get("speaker") != "Alice" || form.Get(testsupport.ParamCorpus) != "CorpusX" {
		t.Fatalf("unexpected submission %v", form)
	}
}

func TestUploadYesSubmitsDefaultsWithoutPrompting(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddParameter("speaker", "Main speaker", "unknown")
	dir := env.files(t, "ep1.eaf")

	out, _, err := runCLI(t, env, "", "upload", "--yes", dir)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if strings.Contains(out, "Main speaker [") {
		t.Fatalf("unexpected prompt in %q", out)
	}
	if got := env.server.Submitted("ep1.eaf").Get("speaker"); got != "unknown" {
		t.Fatalf("expected default speaker, got %q", got)
	}
	requireContains(t, out, "ferry report")
}

func TestUploadOverridesAndSkipExisting(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddTranscript("old.eaf", testsupport.FakeTranscript{Corpus: "CorpusA", Episode: "old", TranscriptType: "interview"})
	dir := env.files(t, "new.eaf", "old.eaf")

	if _, _, err := runCLI(t, env, "", "upload", "--batch", "--corpus", "Nope", dir); err == nil || !strings.Contains(err.Error(), "unknown corpus") {
		t.Fatalf("expected unknown corpus error, got %v", err)
	}

	_, _, err := runCLI(t, env, "", "upload", "--batch", "--skip-existing", "--corpus", "CorpusX", "--type", "reading", dir)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := env.server.UploadOrder(); !slices.Equal(got, []string{"new.eaf"}) {
		t.Fatalf("expected only new.eaf uploaded, got %v", got)
	}
	stored, _ := env.server.Transcript("new.eaf")
	if stored.Corpus != "CorpusX" || stored.TranscriptType != "reading" {
		t.Fatalf("overrides not applied: %+v", stored)
	}
}

func TestUploadNothingToUpload(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.files(t, "only.wav")

	_, _, err := runCLI(t, env, "", "upload", "--batch", dir)
	if !errors.Is(err, ingest.ErrNothingToUpload) {
		t.Fatalf("expected ErrNothingToUpload, got %v", err)
	}
}

func TestUploadRefusesWhileLocked(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.files(t, "a.eaf")
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	lock := flock.New(env.cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	defer func() { _ = lock.Unlock() }()

	_, _, err := runCLI(t, env, "", "upload", "--batch", dir)
	if err == nil || !strings.Contains(err.Error(), "another ferry run is active") {
		t.Fatalf("expected lock error, got %v", err)
	}
	if len(env.server.UploadOrder()) != 0 {
		t.Fatal("nothing should be uploaded while locked")
	}
}

func TestDeleteRemovesStoredTranscripts(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddTranscript("a.eaf", testsupport.FakeTranscript{Corpus: "CorpusA", Episode: "a", TranscriptType: "interview"})
	dir := env.files(t, "a.eaf", "b.eaf")

	out, _, err := runCLI(t, env, "", "delete", "--yes", dir)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	requireContains(t, out, "Deleted 1 of 1")
	if got := env.server.Deleted(); !slices.Equal(got, []string{"a.eaf"}) {
		t.Fatalf("unexpected deletions %v", got)
	}

	history, _, err := runCLI(t, env, "", "history", "--limit", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, history, "Delete")
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.AddTranscript("a.eaf", testsupport.FakeTranscript{Corpus: "CorpusA"})
	dir := env.files(t, "a.eaf")

	out, _, err := runCLI(t, env, "n\n", "delete", dir)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	requireContains(t, out, "Delete 1 transcripts [y/N]")
	requireContains(t, out, "Nothing deleted")
	if len(env.server.Deleted()) != 0 {
		t.Fatalf("unexpected deletions %v", env.server.Deleted())
	}
}

func TestDeleteNothingStored(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.files(t, "a.eaf")

	_, _, err := runCLI(t, env, "", "delete", "--yes", dir)
	if !errors.Is(err, ingest.ErrNothingToDelete) {
		t.Fatalf("expected ErrNothingToDelete, got %v", err)
	}
}

func TestServerListsCatalog(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "", "server")
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	requireContains(t, out, "Corpora: CorpusA, CorpusX")
	requireContains(t, out, "Transcript types: interview, reading")
	requireContains(t, out, "_face")
	requireContains(t, out, "Transcriber")
}

func TestHistoryEmptyAndUnknownReport(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	if _, _, err := runCLI(t, env, "", "report", "deadbeef"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(testsupport.BaseDir(env.cfg), "init", "config.toml")

	out, _, err := runCLI(t, nil, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, nil, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	out, _, err = runCLI(t, env, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.JournalPath())
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "", "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications are disabled")
}

func TestCheckReportsServerAndDirectories(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "", "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	requireContains(t, out, "State directory")
	requireContains(t, out, "Run journal")
	requireContains(t, out, "2 corpora")
}

func TestCheckFailsWhenServerUnreachable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.Close()

	out, _, err := runCLI(t, env, "", "check")
	if !errors.Is(err, errChecksFailed) {
		t.Fatalf("expected errChecksFailed, got %v", err)
	}
	requireContains(t, out, "failed")

	if _, _, err := runCLI(t, env, "", "check", "--offline"); err != nil {
		t.Fatalf("offline check: %v", err)
	}
}

func TestLogsFiltersByRun(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "", "logs")
	if err != nil {
		t.Fatalf("logs without files: %v", err)
	}
	requireContains(t, out, "No logs in")

	lines := strings.Join([]string{
		`{"ts":"2026-01-02T10:00:00Z","level":"info","msg":"transcript uploaded","run_id":"aaaa1111","entry_id":"ep1.eaf"}`,
		`{"ts":"2026-01-02T10:00:01Z","level":"info","msg":"transcript uploaded","run_id":"bbbb2222","entry_id":"ep2.eaf"}`,
		`{"ts":"2026-01-02T10:00:02Z","level":"warn","msg":"upload failed","run_id":"aaaa1111","entry_id":"ep3.eaf"}`,
	}, "\n") + "\n"
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "ferry-20260102.log"), []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err = runCLI(t, env, "", "logs", "--run", "aaaa")
	if err != nil {
		t.Fatalf("logs --run: %v", err)
	}
	requireContains(t, out, "INFO [ep1.eaf] transcript uploaded")
	requireContains(t, out, "WARN [ep3.eaf] upload failed")
	if strings.Contains(out, "ep2.eaf") {
		t.Fatalf("other run leaked into output: %s", out)
	}

	out, _, err = runCLI(t, env, "", "logs", "-n", "1", "--raw")
	if err != nil {
		t.Fatalf("logs --raw: %v", err)
	}
	if strings.TrimSpace(out) != strings.TrimSpace(strings.Split(lines, "\n")[2]) {
		t.Fatalf("unexpected raw output %q", out)
	}
}
