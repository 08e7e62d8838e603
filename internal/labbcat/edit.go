package labbcat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Upload streams a transcript and its media to the server. The server answers
// with an upload id and the parameters it needs before ingestion can finish.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if c == nil {
		return UploadResult{}, errors.New("labbcat: client is nil")
	}
	if strings.TrimSpace(req.TranscriptPath) == "" {
		return UploadResult{}, errors.New("labbcat: transcript path is required")
	}

	total, err := payloadSize(req)
	if err != nil {
		return UploadResult{}, err
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	counter := &countingWriter{total: total, report: req.Progress}
	go func() {
		pw.CloseWithError(writeUploadForm(form, req))
	}()

	body := io.TeeReader(pr, counter)
	var wire struct {
		ID         string      `json:"id"`
		Parameters []Parameter `json:"parameters"`
	}
	err = c.send(ctx, http.MethodPost, "api/edit/transcript/upload", body, form.FormDataContentType(), &wire)
	pr.CloseWithError(errors.New("labbcat: upload finished"))
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", filepath.Base(req.TranscriptPath), err)
	}
	if strings.TrimSpace(wire.ID) == "" {
		return UploadResult{}, fmt.Errorf("upload %s: server returned no upload id", filepath.Base(req.TranscriptPath))
	}
	if req.Progress != nil {
		req.Progress(total, total)
	}
	return UploadResult{UploadID: wire.ID, Parameters: wire.Parameters}, nil
}

func writeUploadForm(form *multipart.Writer, req UploadRequest) error {
	if req.Update {
		if err := form.WriteField("merge", "true"); err != nil {
			return err
		}
	}
	if err := copyFilePart(form, "transcript", req.TranscriptPath); err != nil {
		return err
	}
	for _, media := range req.Media {
		if err := copyFilePart(form, "media"+media.Suffix, media.Path); err != nil {
			return err
		}
	}
	return form.Close()
}

func copyFilePart(form *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	part, err := form.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	return nil
}

func payloadSize(req UploadRequest) (int64, error) {
	paths := []string{req.TranscriptPath}
	for _, media := range req.Media {
		paths = append(paths, media.Path)
	}
	var total int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("labbcat: stat %s: %w", path, err)
		}
		total += info.Size()
	}
	return total, nil
}

// countingWriter observes bytes read from the upload pipe. Multipart framing
// makes the body slightly larger than the file total, so reports are capped.
type countingWriter struct {
	sent   atomic.Int64
	total  int64
	report func(sent, total int64)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	sent := w.sent.Add(int64(len(p)))
	if w.report != nil {
		w.report(min(sent, w.total), w.total)
	}
	return len(p), nil
}

// SubmitParameters sends the parameter values for an upload and returns the
// processing task handles the server started.
func (c *Client) SubmitParameters(ctx context.Context, uploadID string, params []Parameter) (SubmitResult, error) {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return SubmitResult{}, errors.New("labbcat: upload id is required")
	}
	form := url.Values{}
	for _, p := range params {
		form.Add(p.Name, p.Value)
	}
	var wire struct {
		Transcripts map[string]json.RawMessage `json:"transcripts"`
		Parameters  []Parameter                `json:"parameters"`
	}
	if err := c.sendForm(ctx, http.MethodPut, "api/edit/transcript/upload/"+uploadID, form, &wire); err != nil {
		if errors.Is(err, ErrNotFound) {
			return SubmitResult{}, fmt.Errorf("submit parameters: upload %s expired: %w", uploadID, err)
		}
		return SubmitResult{}, fmt.Errorf("submit parameters: %w", err)
	}
	handles := make(map[string]string, len(wire.Transcripts))
	for docID, thread := range wire.Transcripts {
		handles[docID] = strings.TrimSpace(rawString(thread))
	}
	return SubmitResult{Handles: handles, Parameters: wire.Parameters}, nil
}

// DeleteTranscript removes the stored transcript named id.
func (c *Client) DeleteTranscript(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("labbcat: transcript id is required")
	}
	form := url.Values{}
	form.Set("id", id)
	if err := c.sendForm(ctx, http.MethodPost, "api/edit/store/deleteTranscript", form, nil); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
