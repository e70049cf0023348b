package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"listing_store/models"
	"listing_store/similarity"
)

// matchMemStore extends memStore with the sweep surface.
type matchMemStore struct {
	*memStore
	matchMu sync.Mutex
	matches []*models.ListingMatch
}

func newMatchMemStore() *matchMemStore {
	return &matchMemStore{memStore: newMemStore()}
}

func (m *matchMemStore) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Listing
	for _, l := range m.listings {
		if l.UpdatedAt.After(since) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *matchMemStore) InsertListingMatch(ctx context.Context, match *models.ListingMatch) error {
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	for _, existing := range m.matches {
		if existing.MatchedID == match.MatchedID && existing.IncomingID == match.IncomingID {
			return nil
		}
	}
	cp := *match
	m.matches = append(m.matches, &cp)
	return nil
}

func seedListing(t *testing.T, store *matchMemStore, source, street string, beds float64) *models.Listing {
	t.Helper()
	rec := newRecord(source, "", street)
	rec.Bedrooms = floatPtr(beds)
	l := rec.NewListing()
	l.ID = uuid.New()
	if err := store.Insert(context.Background(), l); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}
	return l
}

func TestSweepQueuesNearDuplicates(t *testing.T) {
	store := newMatchMemStore()
	svc := NewMatchService(store, 0.45, 5)
	ctx := context.Background()

	a := seedListing(t, store, "zillow", "321 Washington Street", 2)
	b := seedListing(t, store, "realtor", "321 Washington St", 2)
	seedListing(t, store, "zillow", "9000 Kennedy Boulevard North Bergen", 3)

	since := time.Now().Add(-time.Hour)
	inserted, err := svc.Sweep(ctx, since, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if inserted == 0 {
		t.Fatalf("expected at least one match queued")
	}

	found := false
	for _, m := range store.matches {
		if m.MatchedID == a.ID || m.IncomingID == a.ID {
			other := m.MatchedID
			if other == a.ID {
				other = m.IncomingID
			}
			if other != b.ID {
				continue
			}
			found = true
			if m.Status != models.MatchStatusPending {
				t.Fatalf("expected pending status, got %s", m.Status)
			}
			if m.Confidence < 0.5 || m.Confidence > 0.95 {
				t.Fatalf("confidence out of range: %v", m.Confidence)
			}
			var reasons []string
			if err := json.Unmarshal(m.MatchReasons, &reasons); err != nil {
				t.Fatalf("decode reasons: %v", err)
			}
			if len(reasons) == 0 {
				t.Fatalf("expected match reasons")
			}
		}
	}
	if !found {
		t.Fatalf("a/b pair not queued; matches: %d", len(store.matches))
	}
}

func TestSweepSkipsSelfMatches(t *testing.T) {
	store := newMatchMemStore()
	svc := NewMatchService(store, 0.45, 5)

	seedListing(t, store, "zillow", "1 Lonely Lane", 1)

	inserted, err := svc.Sweep(context.Background(), time.Now().Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected no matches for a single listing, got %d", inserted)
	}
}

func TestSweepHonorsWindow(t *testing.T) {
	store := newMatchMemStore()
	svc := NewMatchService(store, 0.45, 5)

	seedListing(t, store, "zillow", "321 Washington Street", 2)
	seedListing(t, store, "realtor", "321 Washington St", 2)

	// A window in the future sees nothing.
	inserted, err := svc.Sweep(context.Background(), time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected no matches outside the window, got %d", inserted)
	}
}

func TestScoreMatchSameAddress(t *testing.T) {
	beds := 2.0
	city := "Hoboken"
	a := &models.Listing{AddressNorm: "321 washington st hoboken nj", AddressCity: &city, Bedrooms: &beds}
	b := &models.Listing{AddressNorm: "321 washington st hoboken nj", AddressCity: &city, Bedrooms: &beds}

	confidence, reasons, ok := scoreMatch(a, b, 1.0)
	if !ok {
		t.Fatalf("identical addresses should match")
	}
	if confidence < 0.9 || confidence > 0.95 {
		t.Fatalf("confidence out of range: %v", confidence)
	}
	if reasons[0] != "same_address" {
		t.Fatalf("expected same_address first, got %v", reasons)
	}
}

func TestScoreMatchNeedsCorroboration(t *testing.T) {
	a := &models.Listing{AddressNorm: "321 washington st hoboken nj"}
	b := &models.Listing{AddressNorm: "325 washington st hoboken nj"}

	score := similarity.Score(a.AddressNorm, b.AddressNorm)
	if _, _, ok := scoreMatch(a, b, score); ok {
		t.Fatalf("similar address with no agreeing attributes should not match")
	}

	city := "Hoboken"
	state := "NJ"
	a.AddressCity, a.AddressState = &city, &state
	b.AddressCity, b.AddressState = &city, &state
	confidence, _, ok := scoreMatch(a, b, score)
	if !ok {
		t.Fatalf("corroborated similar address should match")
	}
	if confidence >= 0.95 {
		t.Fatalf("capped confidence exceeded: %v", confidence)
	}
}
