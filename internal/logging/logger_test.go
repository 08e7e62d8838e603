package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestConsoleLoggerFormatsSubjectAndAttrs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithEntryID(context.Background(), "corpus/a.eaf")
	ctx = services.WithStage(ctx, "upload")
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "uploader"))
	logger.Info("transcript sent", logging.Int("bytes", 42), logging.String("note", "two words"))
	logger.Debug("hidden")

	out := readLog(t, logPath)
	for _, want := range []string{" INFO uploader: corpus/a.eaf (upload) · transcript sent", "bytes=42", `note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("info level should not include source: %q", out)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Level: "warn", Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("slow server", logging.String(logging.FieldEventType, "slow"))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["level"] != "warn" || record["msg"] != "slow server" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %#v", record)
	}
	if record[logging.FieldEventType] != "slow" {
		t.Fatalf("expected event type in %#v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for xml format")
	}
}

func TestNewFromConfigWritesDailyJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "error"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Error("upload failed", logging.String(logging.FieldEntryID, "x.eaf"))

	path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName(time.Now()))
	out := readLog(t, path)
	if !strings.Contains(out, `"msg":"upload failed"`) || !strings.Contains(out, `"entry_id":"x.eaf"`) {
		t.Fatalf("unexpected file contents %q", out)
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "poll failed", "poll_failed", logging.String(logging.FieldErrorHint, "check server"))

	out := readLog(t, logPath)
	if !strings.Contains(out, `"event_type":"poll_failed"`) || !strings.Contains(out, `"error_hint":"check server"`) {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Count(out, "error_hint") != 1 {
		t.Fatalf("error hint should not be duplicated: %q", out)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should never be enabled")
	}
}

func TestPruneLogsRemovesOldFilesOnly(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "ferry-20200101.log")
	current := filepath.Join(dir, "ferry-20200102.log")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, current, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		stale := time.Now().AddDate(0, 0, -90)
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	removed := logging.PruneLogs(logging.NewNop(), dir, logging.LogFilePattern, filepath.Base(current), 30)
	if removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", old)
	}
	for _, p := range []string{current, other} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", p, err)
		}
	}
	if logging.PruneLogs(nil, dir, logging.LogFilePattern, "", 0) != 0 {
		t.Fatal("zero retention must not prune")
	}
}
