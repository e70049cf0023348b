package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"listing_store/models"
	"listing_store/query"
)

// Reader is the storage surface for read paths.
type Reader interface {
	ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error)
	FuzzySearch(ctx context.Context, text string, minSimilarity float64, limit int) ([]models.Listing, []float64, error)
	ByBoundingBox(ctx context.Context, latMin, latMax, lngMin, lngMax float64) ([]models.Listing, error)
	RunQuery(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// SearchService exposes the read paths over the listing store.
type SearchService struct {
	store         Reader
	minSimilarity float64
}

// NewSearchService creates a new SearchService
func NewSearchService(store Reader, minSimilarity float64) *SearchService {
	return &SearchService{store: store, minSimilarity: minSimilarity}
}

// ByID returns the listing with the given id, or nil when absent.
func (s *SearchService) ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return s.store.ByID(ctx, id)
}

// ByNaturalKey returns the listing matching (source, external id), or nil.
func (s *SearchService) ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error) {
	if source == "" || externalID == "" {
		return nil, nil
	}
	return s.store.ByNaturalKey(ctx, source, externalID)
}

// ScoredListing pairs a listing with its trigram similarity to the query.
type ScoredListing struct {
	Listing models.Listing
	Score   float64
}

// FuzzySearch matches free text against normalized addresses and
// descriptions, best matches first.
func (s *SearchService) FuzzySearch(ctx context.Context, text string, limit int) ([]ScoredListing, error) {
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	listings, scores, err := s.store.FuzzySearch(ctx, text, s.minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search: %w", err)
	}

	out := make([]ScoredListing, len(listings))
	for i := range listings {
		out[i] = ScoredListing{Listing: listings[i], Score: scores[i]}
	}
	return out, nil
}

// ByBoundingBox returns listings whose coordinates fall inside the box.
func (s *SearchService) ByBoundingBox(ctx context.Context, latMin, latMax, lngMin, lngMax float64) ([]models.Listing, error) {
	if latMin > latMax || lngMin > lngMax {
		return nil, fmt.Errorf("inverted bounding box")
	}
	return s.store.ByBoundingBox(ctx, latMin, latMax, lngMin, lngMax)
}

// Query runs a sanitized structured query and returns generic rows.
func (s *SearchService) Query(ctx context.Context, spec *query.Spec) ([]map[string]any, error) {
	if err := spec.Sanitize(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	sql, args := spec.Build()
	rows, err := s.store.RunQuery(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorageUnavailable, err)
	}
	return rows, nil
}
