package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ferry/internal/ingest"
	"ferry/internal/labbcat"
)

const entryColumns = "entry_id, transcript_name, transcript_path, corpus, episode, transcript_type, media_json, parameters_json, state, status, errors_json, progress, upload_id, exists_on_server"

// storedParameter keeps what a report needs from a negotiated parameter.
type storedParameter struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type storedFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

type storedTrack struct {
	Suffix string       `json:"suffix"`
	Files  []storedFile `json:"files"`
}

// FinishRun stores the run's summary and the final state of its entries,
// replacing anything recorded for the run before.
func (j *Journal) FinishRun(ctx context.Context, runID string, summary ingest.RunSummary, entries []ingest.Entry) error {
	return retryOnBusy(ctx, func() error {
		return j.finishRun(ctx, runID, summary, entries)
	})
}

func (j *Journal) finishRun(ctx context.Context, runID string, summary ingest.RunSummary, entries []ingest.Entry) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	finished := summary.Started.Add(summary.Duration)
	if summary.Started.IsZero() {
		finished = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, attempted = ?, succeeded = ?, failed = ?, cancelled = ? WHERE id = ?`,
		formatTime(finished), summary.Attempted, summary.Succeeded, summary.Failed, boolToInt(summary.Cancelled), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_entries WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clear run entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO run_entries (run_id, position, "+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		media, params, errs, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		var name, path string
		if e.Transcript != nil {
			name, path = e.Transcript.Name, e.Transcript.Path
		}
		if _, err := stmt.ExecContext(ctx,
			runID, i, e.ID,
			nullableString(name), nullableString(path),
			nullableString(e.Corpus), nullableString(e.Episode), nullableString(e.TranscriptType),
			media, params,
			string(e.State), nullableString(e.Status), errs,
			e.Progress, nullableString(e.UploadID), e.Exists.String(),
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Entries returns the entries recorded for a run, in their original order.
// The result carries what a report and the history views need; server-side
// handles and in-flight fields are not stored.
func (j *Journal) Entries(ctx context.Context, runID string) ([]ingest.Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM run_entries WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, fmt.Errorf("query run entries: %w", err)
	}
	defer rows.Close()

	var entries []ingest.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (ingest.Entry, error) {
	var (
		e                                 ingest.Entry
		name, path                        sql.NullString
		corpus, episode, transcriptType   sql.NullString
		mediaJSON, paramsJSON, errorsJSON sql.NullString
		state, exists                     string
		status, uploadID                  sql.NullString
	)
	if err := scanner.Scan(
		&e.ID, &name, &path, &corpus, &episode, &transcriptType,
		&mediaJSON, &paramsJSON, &state, &status, &errorsJSON,
		&e.Progress, &uploadID, &exists,
	); err != nil {
		return ingest.Entry{}, fmt.Errorf("scan run entry: %w", err)
	}

	if name.Valid {
		e.Transcript = &ingest.FileRef{Name: name.String, Path: path.String}
	}
	e.Corpus = corpus.String
	e.Episode = episode.String
	e.TranscriptType = transcriptType.String
	e.State = ingest.State(state)
	e.Status = status.String
	e.UploadID = uploadID.String
	e.Exists = parseExistence(exists)

	if err := decodeEntry(&e, mediaJSON.String, paramsJSON.String, errorsJSON.String); err != nil {
		return ingest.Entry{}, fmt.Errorf("decode entry %s: %w", e.ID, err)
	}
	return e, nil
}

func encodeEntry(e *ingest.Entry) (media, params, errs any, err error) {
	if len(e.Media) > 0 {
		tracks := make([]storedTrack, 0, len(e.Media))
		for _, track := range e.Media {
			st := storedTrack{Suffix: track.Suffix}
			for _, f := range track.Files {
				st.Files = append(st.Files, storedFile{Path: f.Path, Name: f.Name, Size: f.Size})
			}
			tracks = append(tracks, st)
		}
		if media, err = marshalString(tracks); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(e.Parameters) > 0 {
		stored := make([]storedParameter, 0, len(e.Parameters))
		for _, p := range e.Parameters {
			stored = append(stored, storedParameter{Name: p.Name, Label: p.Label, Value: p.Value})
		}
		if params, err = marshalString(stored); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(e.Errors) > 0 {
		if errs, err = marshalString(e.Errors); err != nil {
			return nil, nil, nil, err
		}
	}
	return media, params, errs, nil
}

func decodeEntry(e *ingest.Entry, mediaJSON, paramsJSON, errorsJSON string) error {
	if mediaJSON != "" {
		var tracks []storedTrack
		if err := json.Unmarshal([]byte(mediaJSON), &tracks); err != nil {
			return fmt.Errorf("media: %w", err)
		}
		for _, st := range tracks {
			track := ingest.MediaTrack{Suffix: st.Suffix}
			for _, f := range st.Files {
				track.Files = append(track.Files, ingest.FileRef{Path: f.Path, Name: f.Name, Size: f.Size})
			}
			e.Media = append(e.Media, track)
		}
	}
	if paramsJSON != "" {
		var stored []storedParameter
		if err := json.Unmarshal([]byte(paramsJSON), &stored); err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		for _, p := range stored {
			e.Parameters = append(e.Parameters, labbcat.Parameter{Name: p.Name, Label: p.Label, Value: p.Value})
		}
	}
	if errorsJSON != "" {
		if err := json.Unmarshal([]byte(errorsJSON), &e.Errors); err != nil {
			return fmt.Errorf("errors: %w", err)
		}
	}
	return nil
}

func marshalString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseExistence(s string) ingest.Existence {
	switch s {
	case ingest.ExistenceNo.String():
		return ingest.ExistenceNo
	case ingest.ExistenceYes.String():
		return ingest.ExistenceYes
	default:
		return ingest.ExistenceUnknown
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
