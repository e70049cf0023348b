package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"listing_store/logging"
	"listing_store/models"
)

// CachedStore layers a read-through Redis cache over the exact lookup
// paths. Fuzzy and geospatial reads always hit Postgres; mutations
// invalidate. A cache failure degrades to a plain Postgres read.
type CachedStore struct {
	*PostgresStore
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedStore(store *PostgresStore, addr string, ttl time.Duration) *CachedStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &CachedStore{PostgresStore: store, rdb: rdb, ttl: ttl}
}

func idKey(id uuid.UUID) string {
	return "listing:id:" + id.String()
}

func naturalKey(source, externalID string) string {
	return fmt.Sprintf("listing:nk:%s:%s", source, externalID)
}

func (s *CachedStore) ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if l, ok := s.get(ctx, idKey(id)); ok {
		return l, nil
	}

	l, err := s.PostgresStore.ByID(ctx, id)
	if err != nil || l == nil {
		return l, err
	}
	s.set(ctx, idKey(id), l)
	return l, nil
}

func (s *CachedStore) ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error) {
	if l, ok := s.get(ctx, naturalKey(source, externalID)); ok {
		return l, nil
	}

	l, err := s.PostgresStore.ByNaturalKey(ctx, source, externalID)
	if err != nil || l == nil {
		return l, err
	}
	s.set(ctx, naturalKey(source, externalID), l)
	return l, nil
}

func (s *CachedStore) Merge(ctx context.Context, id uuid.UUID, rec *models.Record) (*models.Listing, error) {
	l, err := s.PostgresStore.Merge(ctx, id, rec)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, l)
	return l, nil
}

func (s *CachedStore) get(ctx context.Context, key string) (*models.Listing, bool) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logging.Warnf("cache get %s: %v", key, err)
		return nil, false
	}

	var l models.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		logging.Warnf("cache decode %s: %v", key, err)
		return nil, false
	}
	logging.Debugf("cache hit %s", key)
	return &l, true
}

func (s *CachedStore) set(ctx context.Context, key string, l *models.Listing) {
	data, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logging.Warnf("cache set %s: %v", key, err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, l *models.Listing) {
	keys := []string{idKey(l.ID)}
	if l.ExternalID != nil {
		keys = append(keys, naturalKey(l.Source, *l.ExternalID))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		logging.Warnf("cache invalidate %v: %v", keys, err)
	}
}

func (s *CachedStore) CloseCache() error {
	return s.rdb.Close()
}
