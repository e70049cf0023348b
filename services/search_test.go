package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"listing_store/models"
	"listing_store/query"
)

// fakeReader records the SQL the query path hands to the store.
type fakeReader struct {
	lastSQL  string
	lastArgs []any
}

func (f *fakeReader) ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return nil, nil
}

func (f *fakeReader) ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error) {
	return nil, nil
}

func (f *fakeReader) FuzzySearch(ctx context.Context, text string, minSimilarity float64, limit int) ([]models.Listing, []float64, error) {
	return []models.Listing{{AddressNorm: "123 main st"}}, []float64{0.87}, nil
}

func (f *fakeReader) ByBoundingBox(ctx context.Context, latMin, latMax, lngMin, lngMax float64) ([]models.Listing, error) {
	return nil, nil
}

func (f *fakeReader) RunQuery(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	f.lastSQL = sql
	f.lastArgs = args
	return []map[string]any{{"id": "x"}}, nil
}

func TestSearchQuerySanitizesBeforeRunning(t *testing.T) {
	reader := &fakeReader{}
	svc := NewSearchService(reader, 0.45)

	_, err := svc.Query(context.Background(), &query.Spec{
		Select: []string{"id", "nope"},
	})
	if err == nil {
		t.Fatalf("expected rejection of unknown column")
	}
	if reader.lastSQL != "" {
		t.Fatalf("rejected query reached the store: %s", reader.lastSQL)
	}

	rows, err := svc.Query(context.Background(), &query.Spec{
		Select: []string{"id"},
		Where:  []query.Condition{{Field: "address_city", Op: "=", Value: "Hoboken"}},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !strings.Contains(reader.lastSQL, "address_city = $1") {
		t.Fatalf("unexpected SQL: %s", reader.lastSQL)
	}
	if len(reader.lastArgs) != 2 {
		t.Fatalf("expected value + limit args, got %v", reader.lastArgs)
	}
}

func TestSearchFuzzyPairsScores(t *testing.T) {
	svc := NewSearchService(&fakeReader{}, 0.45)

	results, err := svc.FuzzySearch(context.Background(), "123 main", 10)
	if err != nil {
		t.Fatalf("fuzzy search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 0.87 {
		t.Fatalf("score not paired: %v", results[0].Score)
	}
}

func TestSearchByNaturalKeyRequiresBothParts(t *testing.T) {
	svc := NewSearchService(&fakeReader{}, 0.45)

	l, err := svc.ByNaturalKey(context.Background(), "zillow", "")
	if err != nil || l != nil {
		t.Fatalf("expected nil, nil for incomplete key, got %v, %v", l, err)
	}
}

func TestSearchRejectsInvertedBoundingBox(t *testing.T) {
	svc := NewSearchService(&fakeReader{}, 0.45)

	if _, err := svc.ByBoundingBox(context.Background(), 41, 40, -74, -73); err == nil {
		t.Fatalf("expected inverted box rejection")
	}
}
