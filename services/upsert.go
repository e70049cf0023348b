package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"listing_store/logging"
	"listing_store/models"
	"listing_store/storage"
)

// Store is the storage surface the upsert path needs. *storage.PostgresStore
// and *storage.CachedStore both satisfy it.
type Store interface {
	ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error)
	ByExternalID(ctx context.Context, externalID string) (*models.Listing, error)
	Insert(ctx context.Context, l *models.Listing) error
	Merge(ctx context.Context, id uuid.UUID, rec *models.Record) (*models.Listing, error)
	Candidates(ctx context.Context, addressNorm string, minSimilarity float64, limit int) ([]models.Candidate, error)
	WithAddressLock(ctx context.Context, addressNorm string, fn func(context.Context) error) error
}

// UpsertService resolves incoming records against stored listings and
// either creates a new row or merges into the winner.
type UpsertService struct {
	store          Store
	minSimilarity  float64
	candidateLimit int
}

// NewUpsertService creates a new UpsertService
func NewUpsertService(store Store, minSimilarity float64, candidateLimit int) *UpsertService {
	if candidateLimit <= 0 {
		candidateLimit = 5
	}
	return &UpsertService{
		store:          store,
		minSimilarity:  minSimilarity,
		candidateLimit: candidateLimit,
	}
}

// Upsert resolves rec to at most one stored listing and applies it.
// On a unique violation the resolution is retried exactly once; a second
// violation surfaces as ErrConstraintViolation.
func (s *UpsertService) Upsert(ctx context.Context, rec *models.Record) (*models.Listing, models.Outcome, error) {
	if rec == nil || rec.Source == "" {
		return nil, "", ErrIdentityIndeterminate
	}
	if !rec.HasExternalID() && !rec.AddressComplete() {
		return nil, "", ErrIdentityIndeterminate
	}

	listing, outcome, err := s.resolve(ctx, rec)
	if err == nil || !errors.Is(err, storage.ErrUniqueViolation) {
		return listing, outcome, err
	}

	// A concurrent writer won the insert. One re-resolution is enough:
	// the winning row is committed and visible now.
	logging.Warnf("upsert race on source=%s, retrying resolution: %v", rec.Source, err)
	listing, outcome, err = s.resolve(ctx, rec)
	if errors.Is(err, storage.ErrUniqueViolation) {
		return nil, "", fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return listing, outcome, err
}

func (s *UpsertService) resolve(ctx context.Context, rec *models.Record) (*models.Listing, models.Outcome, error) {
	if rec.HasExternalID() {
		existing, err := s.store.ByNaturalKey(ctx, rec.Source, *rec.ExternalID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: lookup natural key: %v", ErrStorageUnavailable, err)
		}
		if existing != nil {
			merged, err := s.store.Merge(ctx, existing.ID, rec)
			if err != nil {
				return nil, "", s.mergeError(err)
			}
			return merged, models.OutcomeUpdated, nil
		}

		// The external id may already be claimed by another source.
		// Claimed ids never migrate between sources.
		other, err := s.store.ByExternalID(ctx, *rec.ExternalID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: lookup external id: %v", ErrStorageUnavailable, err)
		}
		if other != nil && other.Source != rec.Source {
			return nil, "", fmt.Errorf("%w: id %s held by source %s", ErrIdentityConflict, *rec.ExternalID, other.Source)
		}

		if !rec.AddressComplete() {
			return s.insert(ctx, rec)
		}
	}

	return s.resolveByAddress(ctx, rec)
}

// resolveByAddress runs the fuzzy stage under a per-address advisory lock
// so two concurrent writers for the same normalized address serialize
// instead of both inserting.
func (s *UpsertService) resolveByAddress(ctx context.Context, rec *models.Record) (*models.Listing, models.Outcome, error) {
	norm := rec.NormalizedAddress()

	var (
		listing *models.Listing
		outcome models.Outcome
	)
	err := s.store.WithAddressLock(ctx, norm, func(ctx context.Context) error {
		candidates, err := s.store.Candidates(ctx, norm, s.minSimilarity, s.candidateLimit)
		if err != nil {
			return fmt.Errorf("%w: fuzzy candidates: %v", ErrStorageUnavailable, err)
		}

		switch len(candidates) {
		case 0:
			listing, outcome, err = s.insert(ctx, rec)
			return err
		case 1:
			target := candidates[0]
			merged, err := s.store.Merge(ctx, target.ListingID, rec)
			if err != nil {
				return s.mergeError(err)
			}
			logging.Infof("Merged %s record into listing %s (similarity %.3f)", rec.Source, target.ListingID, target.Score)
			listing = merged
			outcome = models.OutcomeMergedViaFuzzy
			return nil
		default:
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = c.ListingID.String()
			}
			return fmt.Errorf("%w: %q matched %v", ErrAmbiguousMatch, norm, ids)
		}
	})
	if err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) ||
			errors.Is(err, ErrStorageUnavailable) ||
			errors.Is(err, ErrAmbiguousMatch) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: address lock: %v", ErrStorageUnavailable, err)
	}
	return listing, outcome, nil
}

func (s *UpsertService) insert(ctx context.Context, rec *models.Record) (*models.Listing, models.Outcome, error) {
	l := rec.NewListing()
	l.ID = uuid.New()
	if err := s.store.Insert(ctx, l); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: insert: %v", ErrStorageUnavailable, err)
	}
	return l, models.OutcomeCreated, nil
}

func (s *UpsertService) mergeError(err error) error {
	if errors.Is(err, storage.ErrUniqueViolation) {
		return err
	}
	return fmt.Errorf("%w: merge: %v", ErrStorageUnavailable, err)
}
