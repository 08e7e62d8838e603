package ingest

import "slices"

// Defaults feeds InferMetadata.
type Defaults struct {
	Corpora         []string
	TranscriptTypes []string
	// TrsFolder is the conventional transcript sub-folder name, ignored when
	// it is the innermost directory.
	TrsFolder string
}

// InferMetadata guesses corpus, episode and transcript type for a new entry.
// Without directory hints the corpus and type are the first declared values
// and the episode is the entry id. The innermost directory (after dropping a
// trailing trs folder) becomes the corpus if it names one; otherwise it
// becomes the episode and its parent is checked for a corpus name.
func InferMetadata(id string, dirs []string, d Defaults) Metadata {
	md := Metadata{Episode: id}
	if len(d.Corpora) > 0 {
		md.Corpus = d.Corpora[0]
	}
	if len(d.TranscriptTypes) > 0 {
		md.TranscriptType = d.TranscriptTypes[0]
	}

	segments := dirs
	if n := len(segments); n > 0 && d.TrsFolder != "" && segments[n-1] == d.TrsFolder {
		segments = segments[:n-1]
	}

	n := len(segments)
	if n == 0 {
		return md
	}
	deepest := segments[n-1]
	if slices.Contains(d.Corpora, deepest) {
		md.Corpus = deepest
		return md
	}
	md.Episode = deepest
	if n > 1 && slices.Contains(d.Corpora, segments[n-2]) {
		md.Corpus = segments[n-2]
	}
	return md
}
