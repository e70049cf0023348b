package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"listing_store/logging"
	"listing_store/models"
)

// MatchStore is the storage surface the reconciliation sweep needs.
type MatchStore interface {
	RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]models.Listing, error)
	Candidates(ctx context.Context, addressNorm string, minSimilarity float64, limit int) ([]models.Candidate, error)
	ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	InsertListingMatch(ctx context.Context, m *models.ListingMatch) error
}

// MatchService finds near-duplicate listings that slipped past the
// upsert path and queues them for review. It never merges on its own.
type MatchService struct {
	store          MatchStore
	minSimilarity  float64
	candidateLimit int
}

// NewMatchService creates a new MatchService
func NewMatchService(store MatchStore, minSimilarity float64, candidateLimit int) *MatchService {
	if candidateLimit <= 0 {
		candidateLimit = 5
	}
	return &MatchService{
		store:          store,
		minSimilarity:  minSimilarity,
		candidateLimit: candidateLimit,
	}
}

// Sweep scans listings updated since the given time and records pending
// matches for any pair whose addresses overlap above the threshold.
// Returns the number of matches inserted.
func (s *MatchService) Sweep(ctx context.Context, since time.Time, batch int) (int, error) {
	listings, err := s.store.RecentlyUpdated(ctx, since, batch)
	if err != nil {
		return 0, fmt.Errorf("load recent listings: %w", err)
	}

	inserted := 0
	for i := range listings {
		n, err := s.sweepOne(ctx, &listings[i])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}

	logging.Infof("Match sweep: %d listings scanned, %d matches recorded", len(listings), inserted)
	return inserted, nil
}

func (s *MatchService) sweepOne(ctx context.Context, incoming *models.Listing) (int, error) {
	if incoming.AddressNorm == "" {
		return 0, nil
	}

	candidates, err := s.store.Candidates(ctx, incoming.AddressNorm, s.minSimilarity, s.candidateLimit+1)
	if err != nil {
		return 0, fmt.Errorf("candidates for %s: %w", incoming.ID, err)
	}

	inserted := 0
	now := time.Now()
	for _, c := range candidates {
		if c.ListingID == incoming.ID {
			continue
		}

		other, err := s.store.ByID(ctx, c.ListingID)
		if err != nil {
			return inserted, fmt.Errorf("load candidate %s: %w", c.ListingID, err)
		}
		if other == nil {
			continue
		}

		confidence, reasons, ok := scoreMatch(incoming, other, c.Score)
		if !ok {
			continue
		}

		reasonsJSON, _ := json.Marshal(reasons)
		match := &models.ListingMatch{
			MatchedID:    c.ListingID,
			IncomingID:   incoming.ID,
			Confidence:   confidence,
			MatchReasons: reasonsJSON,
			Status:       models.MatchStatusPending,
			CreatedAt:    now,
		}
		if err := s.store.InsertListingMatch(ctx, match); err != nil {
			return inserted, fmt.Errorf("insert match: %w", err)
		}
		inserted++
	}

	return inserted, nil
}

// scoreMatch turns a trigram hit into a review confidence. The address
// score is the base; attribute agreement corroborates it.
func scoreMatch(incoming, candidate *models.Listing, addressScore float64) (float64, []string, bool) {
	reasons := []string{}
	sameAddress := incoming.AddressNorm != "" && incoming.AddressNorm == candidate.AddressNorm

	if sameAddress {
		reasons = append(reasons, "same_address")
	} else {
		reasons = append(reasons, "similar_address")
	}

	closeAttrCount := 0
	if sameStr(incoming.AddressCity, candidate.AddressCity) {
		reasons = append(reasons, "same_city")
		closeAttrCount++
	}
	if sameStr(incoming.AddressState, candidate.AddressState) {
		reasons = append(reasons, "same_state")
		closeAttrCount++
	}
	if closeFloat(incoming.Bedrooms, candidate.Bedrooms, 0) {
		reasons = append(reasons, "same_beds")
		closeAttrCount++
	} else if closeFloat(incoming.Bedrooms, candidate.Bedrooms, 1) {
		reasons = append(reasons, "close_beds")
		closeAttrCount++
	}
	if closeFloat(incoming.Bathrooms, candidate.Bathrooms, 0.5) {
		reasons = append(reasons, "close_baths")
		closeAttrCount++
	}
	if closeArea(incoming.LivingArea, candidate.LivingArea) {
		reasons = append(reasons, "close_sqft")
		closeAttrCount++
	}

	var confidence float64
	if sameAddress {
		confidence = 0.9
	} else {
		confidence = 0.55 + 0.35*addressScore
	}
	confidence += 0.02 * float64(closeAttrCount)
	if confidence > 0.95 {
		confidence = 0.95
	}

	if !sameAddress && closeAttrCount < 2 {
		return 0, nil, false
	}
	return confidence, reasons, true
}

func sameStr(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

func closeFloat(a, b *float64, tolerance float64) bool {
	return a != nil && b != nil && math.Abs(*a-*b) <= tolerance
}

func closeArea(a, b *float64) bool {
	if a == nil || b == nil || *a <= 0 || *b <= 0 {
		return false
	}
	larger := math.Max(*a, *b)
	return math.Abs(*a-*b)/larger <= 0.1
}
