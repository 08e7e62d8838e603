package labbcat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Parameter is a server-declared field needed to finish ingesting an upload.
type Parameter struct {
	Name           string
	Label          string
	Hint           string
	Type           string
	Required       bool
	Value          string
	PossibleValues []string
}

// Deserializer describes a transcript format the server can parse.
type Deserializer struct {
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	FileSuffixes []string `json:"fileSuffixes"`
	Version      string   `json:"version"`
}

// Track is a named media channel. The primary recording has an empty suffix.
type Track struct {
	Suffix      string `json:"suffix"`
	Description string `json:"description"`
}

// TranscriptAttributes holds the structural metadata of a stored transcript.
type TranscriptAttributes struct {
	ID             string
	Corpus         string
	Episode        string
	TranscriptType string
}

// TaskStatus reports the state of a server-side processing task.
type TaskStatus struct {
	ID              string
	Running         bool
	PercentComplete int
	Status          string
	Error           string
}

// MediaFile is one media payload attached to an upload.
type MediaFile struct {
	Suffix string
	Path   string
}

// UploadRequest describes a raw transcript upload.
type UploadRequest struct {
	TranscriptPath string
	Media          []MediaFile
	// Update merges into an existing transcript of the same name.
	Update bool
	// Progress, when set, receives bytes sent so far and the expected total.
	Progress func(sent, total int64)
}

// UploadResult is the server's answer to a raw upload.
type UploadResult struct {
	UploadID   string
	Parameters []Parameter
}

// SubmitResult is the server's answer to a parameter submission.
type SubmitResult struct {
	// Handles maps each affected document id to its processing task id.
	Handles    map[string]string
	Parameters []Parameter
}

// IndexBySuffix maps lower-case file extensions (without the dot) to the
// first deserializer that declares them.
func IndexBySuffix(descriptors []Deserializer) map[string]Deserializer {
	index := make(map[string]Deserializer)
	for _, d := range descriptors {
		for _, suffix := range d.FileSuffixes {
			key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(suffix), "."))
			if key == "" {
				continue
			}
			if _, ok := index[key]; !ok {
				index[key] = d
			}
		}
	}
	return index
}

type parameterWire struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Hint           string          `json:"hint"`
	Type           string          `json:"type"`
	Required       bool            `json:"required"`
	Value          json.RawMessage `json:"value"`
	PossibleValues json.RawMessage `json:"possibleValues"`
}

// UnmarshalJSON accepts scalar values of any JSON type and possible values
// given either as a list or as an object whose keys are the options.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var wire parameterWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	options, err := orderedLabels(wire.PossibleValues)
	if err != nil {
		return fmt.Errorf("parameter %s possible values: %w", wire.Name, err)
	}
	*p = Parameter{
		Name:           wire.Name,
		Label:          wire.Label,
		Hint:           wire.Hint,
		Type:           wire.Type,
		Required:       wire.Required,
		Value:          rawString(wire.Value),
		PossibleValues: options,
	}
	return nil
}

// rawString renders a JSON scalar as text; strings lose their quotes and null
// becomes empty.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// orderedLabels decodes either a JSON array of scalars or a JSON object,
// returning the array items or the object keys in document order.
func orderedLabels(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		labels := make([]string, 0, len(items))
		for _, item := range items {
			labels = append(labels, rawString(item))
		}
		return labels, nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var labels []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := tok.(string)
			labels = append(labels, key)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
		return labels, nil
	default:
		return nil, fmt.Errorf("expected list or object, got %.20s", raw)
	}
}

// firstLabel extracts a single label from an attribute value that may be a
// string, a list of strings, or a list of annotation objects with a label.
func firstLabel(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] != '[' {
		if raw[0] == '{' {
			var annotation struct {
				Label string `json:"label"`
			}
			if err := json.Unmarshal(raw, &annotation); err == nil {
				return annotation.Label
			}
			return ""
		}
		return rawString(raw)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return ""
	}
	return firstLabel(items[0])
}
