package ingest

import (
	"bufio"
	"io"
	"strings"
)

// ReportHeader is the first line of every report.
const ReportHeader = "Transcript,Media,Corpus,Episode,Type,Parameters,Status,Errors"

// WriteReport renders one CSV row per entry, in the order given. Media,
// parameters, status and errors are quoted and newline-joined; double quotes
// inside parameters, status and errors become single quotes. Transcript name,
// corpus, episode and type are written as they are.
func WriteReport(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(ReportHeader)
	bw.WriteByte('\n')
	for i := range entries {
		writeReportRow(bw, &entries[i])
	}
	return bw.Flush()
}

// Report returns the report as a string.
func Report(entries []Entry) string {
	var b strings.Builder
	_ = WriteReport(&b, entries)
	return b.String()
}

func writeReportRow(w *bufio.Writer, e *Entry) {
	media := make([]string, 0, len(e.Media))
	for _, f := range e.MediaFiles() {
		media = append(media, f.Name)
	}
	params := make([]string, 0, len(e.Parameters))
	for _, p := range e.Parameters {
		params = append(params, p.Name+"="+p.Value)
	}

	fields := []string{
		e.TranscriptName(),
		quoted(strings.Join(media, "\n")),
		e.Corpus,
		e.Episode,
		e.TranscriptType,
		quoted(singleQuotes(strings.Join(params, "\n"))),
		quoted(singleQuotes(e.Status)),
		quoted(singleQuotes(strings.Join(e.Errors, "\n"))),
	}
	w.WriteString(strings.Join(fields, ","))
	w.WriteByte('\n')
}

func quoted(s string) string {
	return `"` + s + `"`
}

func singleQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `'`)
}
