package logs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"ferry/internal/logging"
)

// Record is one parsed line of the JSON log.
type Record struct {
	Time    string
	Level   string
	Message string
	RunID   string
	EntryID string
	Attrs   map[string]any
}

// Parse decodes a JSON log line. It reports false for lines that are not
// JSON objects.
func Parse(line string) (Record, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Record{}, false
	}
	rec := Record{
		Time:    takeString(raw, "ts"),
		Level:   takeString(raw, "level"),
		Message: takeString(raw, "msg"),
		RunID:   takeString(raw, logging.FieldRunID),
		EntryID: takeString(raw, logging.FieldEntryID),
		Attrs:   raw,
	}
	return rec, true
}

func takeString(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	delete(raw, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MatchRun returns a line filter keeping records whose run id starts with
// prefix. Lines that are not JSON never match.
func MatchRun(prefix string) func(string) bool {
	prefix = strings.TrimSpace(prefix)
	return func(line string) bool {
		if prefix == "" {
			return true
		}
		if !strings.Contains(line, prefix) {
			return false
		}
		rec, ok := Parse(line)
		return ok && rec.RunID != "" && strings.HasPrefix(rec.RunID, prefix)
	}
}

// Format renders a record as "ts LEVEL [entry] message key=value ...".
// Lines that do not parse are returned unchanged.
func Format(line string) string {
	rec, ok := Parse(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if rec.Time != "" {
		b.WriteString(rec.Time)
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToUpper(rec.Level))
	if rec.EntryID != "" {
		b.WriteString(" [")
		b.WriteString(rec.EntryID)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(rec.Message)

	keys := make([]string, 0, len(rec.Attrs))
	for k := range rec.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, rec.Attrs[k])
	}
	return b.String()
}

// ErrNoLogs reports that the log directory holds no ferry log files.
var ErrNoLogs = errors.New("no log files found")

// Files lists the ferry log files in dir, oldest first.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logging.LogFilePattern))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Latest returns the newest ferry log file in dir.
func Latest(dir string) (string, error) {
	files, err := Files(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoLogs, dir)
	}
	return files[len(files)-1], nil
}
