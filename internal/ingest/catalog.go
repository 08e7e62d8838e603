package ingest

import (
	"context"
	"errors"
	"slices"

	"ferry/internal/labbcat"
)

// CatalogSource lists the server-declared values classification depends on.
type CatalogSource interface {
	CorpusIDs(ctx context.Context) ([]string, error)
	TranscriptTypes(ctx context.Context) ([]string, error)
	MediaTracks(ctx context.Context) ([]labbcat.Track, error)
	Deserializers(ctx context.Context) ([]labbcat.Deserializer, error)
}

// Catalog holds the server-declared valid values.
type Catalog struct {
	Corpora         []string
	TranscriptTypes []string
	Tracks          []labbcat.Track
	Deserializers   []labbcat.Deserializer
	// Formats maps lower-case extensions to deserializers.
	Formats map[string]labbcat.Deserializer
}

// LoadCatalog fetches every list the classifier needs.
func LoadCatalog(ctx context.Context, src CatalogSource) (Catalog, error) {
	var (
		cat Catalog
		err error
	)
	if cat.Corpora, err = src.CorpusIDs(ctx); err != nil {
		return Catalog{}, err
	}
	if cat.TranscriptTypes, err = src.TranscriptTypes(ctx); err != nil {
		return Catalog{}, err
	}
	if cat.Tracks, err = src.MediaTracks(ctx); err != nil {
		return Catalog{}, err
	}
	if cat.Deserializers, err = src.Deserializers(ctx); err != nil {
		return Catalog{}, err
	}
	cat.Formats = labbcat.IndexBySuffix(cat.Deserializers)
	if len(cat.Formats) == 0 {
		return Catalog{}, errors.New("server declares no transcript formats")
	}
	return cat, nil
}

// IsCorpus reports whether name is a declared corpus.
func (c Catalog) IsCorpus(name string) bool {
	return slices.Contains(c.Corpora, name)
}
