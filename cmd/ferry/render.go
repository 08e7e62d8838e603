package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferry/internal/ingest"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

func isTerminal(v any) bool {
	file, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel turns "parameters_pending" into "Parameters Pending".
func stateLabel(state ingest.State) string {
	return titleCaser.String(strings.ReplaceAll(string(state), "_", " "))
}

func stateColor(state ingest.State) string {
	switch state {
	case ingest.StateDone:
		return ansiGreen
	case ingest.StateFailed:
		return ansiRed
	case ingest.StateParametersPending:
		return ansiYellow
	case ingest.StateQueued:
		return ""
	default:
		return ansiBlue
	}
}

func colorize(s, color string, enabled bool) string {
	if !enabled || color == "" || s == "" {
		return s
	}
	return color + s + ansiReset
}

func existsLabel(e ingest.Existence) string {
	switch e {
	case ingest.ExistenceYes:
		return "yes"
	case ingest.ExistenceNo:
		return "no"
	default:
		return "?"
	}
}

func mediaLabel(e ingest.Entry) string {
	files := e.MediaFiles()
	switch len(files) {
	case 0:
		return "-"
	case 1:
		return files[0].Name
	default:
		return fmt.Sprintf("%s (+%d)", files[0].Name, len(files)-1)
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// renderEntries prints one row per entry. Media-only entries are listed so
// orphaned recordings are visible.
func renderEntries(out io.Writer, entries []ingest.Entry, color bool) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries")
		return
	}
	headers := []string{"Entry", "Transcript", "Media", "Corpus", "Episode", "Type", "On Server", "State", "Progress", "Status"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := e.Status
		if len(e.Errors) > 0 {
			status = strings.TrimSpace(status + "\n" + strings.Join(e.Errors, "\n"))
		}
		rows = append(rows, []string{
			e.ID,
			dash(e.TranscriptName()),
			mediaLabel(e),
			dash(e.Corpus),
			dash(e.Episode),
			dash(e.TranscriptType),
			existsLabel(e.Exists),
			colorize(stateLabel(e.State), stateColor(e.State), color),
			strconv.Itoa(e.Progress) + "%",
			dash(status),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
}

func renderSummary(out io.Writer, summary ingest.RunSummary) {
	verb := "Uploaded"
	if summary.Kind == "delete" {
		verb = "Deleted"
	}
	line := fmt.Sprintf("%s %d of %d", verb, summary.Succeeded, summary.Attempted)
	if summary.Failed > 0 {
		line += fmt.Sprintf(", %d failed", summary.Failed)
	}
	if summary.Cancelled {
		line += " (cancelled)"
	}
	if summary.Duration > 0 {
		line += fmt.Sprintf(" in %s", summary.Duration.Round(100*time.Millisecond))
	}
	fmt.Fprintln(out, line)
}
