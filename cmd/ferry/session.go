package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"ferry/internal/config"
	"ferry/internal/ingest"
	"ferry/internal/labbcat"
	"ferry/internal/logging"
)

// session holds the registry and server handles shared by the scan, upload
// and delete commands.
type session struct {
	cfg        *config.Config
	logger     *slog.Logger
	client     *labbcat.Client
	catalog    ingest.Catalog
	registry   *ingest.Registry
	resolver   *ingest.Resolver
	classifier *ingest.Classifier
}

func (c *commandContext) openSession(ctx context.Context) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := ingest.LoadCatalog(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("load server catalog from %s: %w", client.BaseURL(), err)
	}

	registry := ingest.NewRegistry()
	resolver := ingest.NewResolver(ctx, registry, client, cfg.Upload.ExistenceConcurrency, logger)
	classifier := ingest.NewClassifier(registry, catalog, ingest.ClassifierOptions{
		MediaExtensions: cfg.Upload.MediaExtensions,
		TrsFolder:       cfg.Upload.TrsFolder,
		Resolver:        resolver,
		Logger:          logger,
	})
	return &session{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		catalog:    catalog,
		registry:   registry,
		resolver:   resolver,
		classifier: classifier,
	}, nil
}

// addPaths classifies the given paths and waits for every existence lookup.
func (s *session) addPaths(paths []string) (ingest.Summary, error) {
	summary, err := s.classifier.AddPaths(paths)
	if err != nil {
		return summary, err
	}
	s.resolver.Wait()
	s.logger.Info("files added",
		logging.Int("transcripts", summary.Transcripts),
		logging.Int("media", summary.Media),
		logging.Int("ignored", summary.Ignored),
		logging.Int("discarded", summary.Discarded),
		logging.Int("entries", s.registry.Len()),
	)
	return summary, nil
}

// metadataOverrides replace inferred metadata on every new transcript entry.
type metadataOverrides struct {
	corpus         string
	episode        string
	transcriptType string
}

func (o metadataOverrides) empty() bool {
	return o.corpus == "" && o.episode == "" && o.transcriptType == ""
}

func (o metadataOverrides) validate(catalog ingest.Catalog) error {
	if o.corpus != "" && !catalog.IsCorpus(o.corpus) {
		return fmt.Errorf("unknown corpus %q (server has: %s)", o.corpus, strings.Join(catalog.Corpora, ", "))
	}
	if o.transcriptType != "" && !slices.Contains(catalog.TranscriptTypes, o.transcriptType) {
		return fmt.Errorf("unknown transcript type %q (server has: %s)", o.transcriptType, strings.Join(catalog.TranscriptTypes, ", "))
	}
	return nil
}

// apply sets the overrides on entries whose metadata is still editable and
// returns how many were changed.
func (s *session) applyOverrides(o metadataOverrides) (int, error) {
	if o.empty() {
		return 0, nil
	}
	if err := o.validate(s.catalog); err != nil {
		return 0, err
	}
	changed := 0
	for _, e := range s.registry.Entries() {
		if e.Transcript == nil {
			continue
		}
		md := ingest.Metadata{Corpus: e.Corpus, Episode: e.Episode, TranscriptType: e.TranscriptType}
		if o.corpus != "" {
			md.Corpus = o.corpus
		}
		if o.episode != "" {
			md.Episode = o.episode
		}
		if o.transcriptType != "" {
			md.TranscriptType = o.transcriptType
		}
		err := s.registry.SetMetadata(e.ID, md)
		switch {
		case errors.Is(err, ingest.ErrEntryLocked):
			s.logger.Debug("metadata override skipped for stored transcript", logging.String(logging.FieldEntryID, e.ID))
		case err != nil:
			return changed, err
		default:
			changed++
		}
	}
	return changed, nil
}

// dropExisting removes entries whose transcript is already on the server.
func (s *session) dropExisting() int {
	removed := 0
	for _, e := range s.registry.Entries() {
		if e.Exists != ingest.ExistenceYes {
			continue
		}
		if err := s.registry.Remove(e.ID); err == nil {
			removed++
		}
	}
	return removed
}
