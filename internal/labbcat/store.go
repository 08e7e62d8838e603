package labbcat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Layer ids queried for structural transcript metadata.
const (
	LayerCorpus         = "corpus"
	LayerEpisode        = "episode"
	LayerTranscriptType = "transcript_type"
)

// TranscriptAttributes looks up the corpus, episode and transcript type of
// the stored transcript named id. It returns ErrNotFound when the server has
// no such transcript.
func (c *Client) TranscriptAttributes(ctx context.Context, id string) (TranscriptAttributes, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TranscriptAttributes{}, errors.New("labbcat: transcript id is required")
	}
	query := url.Values{}
	query.Set("id", id)
	query.Add("layerIds", LayerCorpus)
	query.Add("layerIds", LayerEpisode)
	query.Add("layerIds", LayerTranscriptType)

	var model map[string]json.RawMessage
	if err := c.get(ctx, "api/store/getTranscriptAttributes", query, &model); err != nil {
		return TranscriptAttributes{}, err
	}
	if len(model) == 0 {
		return TranscriptAttributes{}, fmt.Errorf("%w: transcript %s", ErrNotFound, id)
	}
	attrs := TranscriptAttributes{
		ID:             firstLabel(model["id"]),
		Corpus:         firstLabel(model[LayerCorpus]),
		Episode:        firstLabel(model[LayerEpisode]),
		TranscriptType: firstLabel(model[LayerTranscriptType]),
	}
	if attrs.ID == "" {
		attrs.ID = id
	}
	return attrs, nil
}

// CorpusIDs lists the corpora defined on the server, in server order.
func (c *Client) CorpusIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.get(ctx, "api/store/getCorpusIds", nil, &ids); err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	return ids, nil
}

// TranscriptTypes lists the valid labels of the transcript type layer, in
// the order the server declares them.
func (c *Client) TranscriptTypes(ctx context.Context) ([]string, error) {
	query := url.Values{}
	query.Set("id", LayerTranscriptType)
	var layer struct {
		ID          string          `json:"id"`
		ValidLabels json.RawMessage `json:"validLabels"`
	}
	if err := c.get(ctx, "api/store/getLayer", query, &layer); err != nil {
		return nil, fmt.Errorf("list transcript types: %w", err)
	}
	labels, err := orderedLabels(layer.ValidLabels)
	if err != nil {
		return nil, fmt.Errorf("list transcript types: %w", err)
	}
	return labels, nil
}

// MediaTracks lists the media tracks the server accepts.
func (c *Client) MediaTracks(ctx context.Context) ([]Track, error) {
	var tracks []Track
	if err := c.get(ctx, "api/store/getMediaTracks", nil, &tracks); err != nil {
		return nil, fmt.Errorf("list media tracks: %w", err)
	}
	return tracks, nil
}

// Deserializers lists the transcript formats the server can ingest.
func (c *Client) Deserializers(ctx context.Context) ([]Deserializer, error) {
	var descriptors []Deserializer
	if err := c.get(ctx, "api/store/getDeserializerDescriptors", nil, &descriptors); err != nil {
		return nil, fmt.Errorf("list deserializers: %w", err)
	}
	return descriptors, nil
}

// TaskStatus polls a processing task. It returns ErrNotFound once the server
// has released the task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return TaskStatus{}, errors.New("labbcat: task id is required")
	}
	var wire struct {
		ThreadID        json.RawMessage `json:"threadId"`
		Running         bool            `json:"running"`
		PercentComplete int             `json:"percentComplete"`
		Status          string          `json:"status"`
		Error           string          `json:"error"`
	}
	if err := c.get(ctx, "api/task/"+taskID, nil, &wire); err != nil {
		return TaskStatus{}, err
	}
	status := TaskStatus{
		ID:              rawString(wire.ThreadID),
		Running:         wire.Running,
		PercentComplete: min(max(wire.PercentComplete, 0), 100),
		Status:          wire.Status,
		Error:           wire.Error,
	}
	if status.ID == "" {
		status.ID = taskID
	}
	return status, nil
}
