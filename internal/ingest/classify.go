package ingest

import (
	"log/slog"
	"path/filepath"
	"strings"

	"ferry/internal/labbcat"
	"ferry/internal/logging"
)

// DefaultMediaExtensions are accepted as media when the MIME type is unknown.
var DefaultMediaExtensions = []string{"wav", "mp3", "jpg", "gif", "png", "mp4", "mpeg", "avi"}

// Summary counts what one Add call did with its candidates.
type Summary struct {
	Transcripts int
	Media       int
	Ignored     int
	Discarded   int
	NewEntries  int
}

// ClassifierOptions tunes a Classifier.
type ClassifierOptions struct {
	MediaExtensions []string
	TrsFolder       string
	// Resolver, when set, is asked about every newly classified transcript.
	Resolver *Resolver
	Logger   *slog.Logger
}

// Classifier files candidates into registry entries.
type Classifier struct {
	registry  *Registry
	catalog   Catalog
	mediaExts map[string]struct{}
	trsFolder string
	resolver  *Resolver
	logger    *slog.Logger
}

// NewClassifier builds a classifier over the registry using the server catalog.
func NewClassifier(registry *Registry, catalog Catalog, opts ClassifierOptions) *Classifier {
	exts := opts.MediaExtensions
	if len(exts) == 0 {
		exts = DefaultMediaExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	if catalog.Formats == nil {
		catalog.Formats = labbcat.IndexBySuffix(catalog.Deserializers)
	}
	return &Classifier{
		registry:  registry,
		catalog:   catalog,
		mediaExts: set,
		trsFolder: opts.TrsFolder,
		resolver:  opts.Resolver,
		logger:    logging.NewComponentLogger(opts.Logger, "classifier"),
	}
}

// AddPaths expands the given files and directories and classifies them.
func (c *Classifier) AddPaths(paths []string) (Summary, error) {
	candidates, err := Expand(paths)
	if err != nil {
		return Summary{}, err
	}
	return c.Add(candidates), nil
}

type lookupRequest struct {
	id   string
	name string
}

// Add classifies candidates in order. Unmatched files are skipped silently.
func (c *Classifier) Add(candidates []Candidate) Summary {
	var (
		summary Summary
		lookups []lookupRequest
	)

	c.registry.mu.Lock()
	guardCSV := c.batchHasNonCSVTranscript(candidates) || c.registryHasNonCSVTranscript()
	for _, cand := range candidates {
		ext := extensionOf(cand.Name)
		base := strings.TrimSuffix(cand.Name, filepath.Ext(cand.Name))

		if ext == "csv" && guardCSV {
			summary.Discarded++
			c.logger.Debug("csv discarded alongside transcripts", logging.String("path", cand.Path))
			continue
		}
		if format, ok := c.catalog.Formats[ext]; ok {
			if req, ok := c.addTranscript(cand, base, format, &summary); ok {
				lookups = append(lookups, req)
			}
			continue
		}
		if c.isMedia(cand.MediaType, ext) {
			c.addMedia(cand, base, &summary)
			continue
		}
		summary.Ignored++
	}
	c.registry.mu.Unlock()

	if c.resolver != nil {
		for _, req := range lookups {
			c.resolver.Check(req.id, req.name)
		}
	}
	c.logger.Debug("files classified",
		logging.Int("transcripts", summary.Transcripts),
		logging.Int("media", summary.Media),
		logging.Int("ignored", summary.Ignored),
		logging.Int("discarded", summary.Discarded),
	)
	return summary
}

// addTranscript registers a transcript. The caller holds the registry lock.
func (c *Classifier) addTranscript(cand Candidate, base string, format labbcat.Deserializer, summary *Summary) (lookupRequest, bool) {
	id := NormalizeID(base)
	e, created := c.registry.upsert(id)
	if created {
		summary.NewEntries++
	}
	if e.Transcript != nil && e.Transcript.Path == cand.Path {
		summary.Transcripts++
		return lookupRequest{}, false
	}
	if e.Op != OpNone || e.UploadID != "" {
		summary.Ignored++
		c.logger.Debug("transcript ignored for entry already uploading",
			logging.String(logging.FieldEntryID, id),
			logging.String("path", cand.Path),
		)
		return lookupRequest{}, false
	}

	e.Transcript = &FileRef{Path: cand.Path, Name: cand.Name, Size: cand.Size, MediaType: format.MimeType}
	f := format
	e.Format = &f
	e.Dirs = append([]string(nil), cand.Dirs...)
	e.Exists = ExistenceUnknown
	if !e.inferred {
		md := InferMetadata(id, cand.Dirs, Defaults{
			Corpora:         c.catalog.Corpora,
			TranscriptTypes: c.catalog.TranscriptTypes,
			TrsFolder:       c.trsFolder,
		})
		e.Corpus, e.Episode, e.TranscriptType = md.Corpus, md.Episode, md.TranscriptType
		e.inferred = true
	}
	summary.Transcripts++
	return lookupRequest{id: id, name: cand.Name}, true
}

// addMedia files a media candidate under its track. The caller holds the
// registry lock.
func (c *Classifier) addMedia(cand Candidate, base string, summary *Summary) {
	suffix := c.trackSuffix(base)
	id := NormalizeID(strings.TrimSuffix(base, suffix))
	e, created := c.registry.upsert(id)
	if created {
		summary.NewEntries++
	}
	e.addMedia(suffix, FileRef{Path: cand.Path, Name: cand.Name, Size: cand.Size, MediaType: cand.MediaType})
	summary.Media++
}

// trackSuffix returns the longest declared track suffix that base ends with,
// or "" for the default track.
func (c *Classifier) trackSuffix(base string) string {
	best := ""
	for _, track := range c.catalog.Tracks {
		s := track.Suffix
		if s == "" || len(s) >= len(base) || !strings.HasSuffix(base, s) {
			continue
		}
		if len(s) > len(best) {
			best = s
		}
	}
	return best
}

// isMedia trusts a known MIME type and only falls back to the extension
// allow-list when the type is unknown.
func (c *Classifier) isMedia(mediaType, ext string) bool {
	if mediaType != "" {
		major, _, _ := strings.Cut(mediaType, "/")
		switch major {
		case "audio", "video", "image":
			return true
		}
		return false
	}
	_, ok := c.mediaExts[ext]
	return ok
}

func (c *Classifier) batchHasNonCSVTranscript(candidates []Candidate) bool {
	for _, cand := range candidates {
		ext := extensionOf(cand.Name)
		if _, ok := c.catalog.Formats[ext]; ok && ext != "csv" {
			return true
		}
	}
	return false
}

// registryHasNonCSVTranscript is called with the registry lock held.
func (c *Classifier) registryHasNonCSVTranscript() bool {
	for _, id := range c.registry.order {
		if t := c.registry.entries[id].Transcript; t != nil && extensionOf(t.Name) != "csv" {
			return true
		}
	}
	return false
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
