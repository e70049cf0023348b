package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"listing_store/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS listing (
			id UUID PRIMARY KEY,
			external_id TEXT,
			listing_data_source TEXT NOT NULL,
			address_unit TEXT,
			address_street TEXT,
			address_city TEXT,
			address_state TEXT,
			longitude_text TEXT,
			latitude_text TEXT,
			longitude DOUBLE PRECISION,
			latitude DOUBLE PRECISION,
			bedrooms NUMERIC(4,1),
			bathrooms NUMERIC(4,1),
			listing_price NUMERIC(14,2),
			year_built INTEGER,
			home_type TEXT,
			living_area DOUBLE PRECISION,
			rent_zestimate NUMERIC(14,2),
			photo_count INTEGER,
			days_on_zillow INTEGER,
			hdp_url TEXT,
			virtual_tour_url TEXT,
			street_view_tile_image_url_medium_lat_long TEXT,
			general_description TEXT,
			price_history JSONB,
			nearby_homes JSONB,
			interior_description JSONB,
			overview JSONB,
			property_description JSONB,
			getting_around_scores JSONB,
			photos TEXT[],
			utilities TEXT[],
			tags TEXT[],
			unit_amenities TEXT[],
			has_approved_third_party_virtual_tour_url BOOLEAN,
			is_instant_offer_enabled BOOLEAN,
			is_off_market BOOLEAN,
			is_listed_by_management_company BOOLEAN,
			availability_date DATE,
			address_norm TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// external_id is unique across all sources; the composite key is
		// enforced independently on top of it.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_listing_external_id ON listing (external_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_listing_source_external_id ON listing (listing_data_source, external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_address_trgm ON listing USING gin (address_norm gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_description_trgm ON listing USING gin (general_description gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_geo ON listing (latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_updated ON listing (updated_at)`,
		`CREATE TABLE IF NOT EXISTS listing_matches (
			id BIGSERIAL PRIMARY KEY,
			matched_id UUID NOT NULL REFERENCES listing(id),
			incoming_id UUID NOT NULL REFERENCES listing(id),
			confidence REAL,
			match_reasons JSONB,
			status TEXT NOT NULL DEFAULT 'pending',
			reviewed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (matched_id, incoming_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON listing_matches (status)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const listingColumns = `id, external_id, listing_data_source,
	address_unit, address_street, address_city, address_state,
	longitude_text, latitude_text, longitude, latitude,
	bedrooms, bathrooms, listing_price, year_built, home_type, living_area,
	rent_zestimate, photo_count, days_on_zillow,
	hdp_url, virtual_tour_url, street_view_tile_image_url_medium_lat_long, general_description,
	price_history, nearby_homes, interior_description, overview, property_description, getting_around_scores,
	photos, utilities, tags, unit_amenities,
	has_approved_third_party_virtual_tour_url, is_instant_offer_enabled, is_off_market, is_listed_by_management_company,
	availability_date, address_norm, created_at, updated_at`

func scanDest(l *models.Listing) []any {
	return []any{
		&l.ID, &l.ExternalID, &l.Source,
		&l.AddressUnit, &l.AddressStreet, &l.AddressCity, &l.AddressState,
		&l.LongitudeText, &l.LatitudeText, &l.Longitude, &l.Latitude,
		&l.Bedrooms, &l.Bathrooms, &l.ListingPrice, &l.YearBuilt, &l.HomeType, &l.LivingArea,
		&l.RentZestimate, &l.PhotoCount, &l.DaysOnMarket,
		&l.HdpURL, &l.VirtualTourURL, &l.StreetViewTileURL, &l.GeneralDescription,
		&l.PriceHistory, &l.NearbyHomes, &l.InteriorDescription, &l.Overview, &l.PropertyDescription, &l.GettingAroundScores,
		&l.Photos, &l.Utilities, &l.Tags, &l.UnitAmenities,
		&l.HasVirtualTour, &l.IsInstantOffer, &l.IsOffMarket, &l.IsManagedByCompany,
		&l.AvailabilityDate, &l.AddressNorm, &l.CreatedAt, &l.UpdatedAt,
	}
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(scanDest(&l)...)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// =============================================================================
// Exact lookups
// =============================================================================

func (s *PostgresStore) ByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listing WHERE id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ByNaturalKey(ctx context.Context, source, externalID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listing WHERE listing_data_source = $1 AND external_id = $2`
	return scanListing(s.pool.QueryRow(ctx, query, source, externalID))
}

func (s *PostgresStore) ByExternalID(ctx context.Context, externalID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listing WHERE external_id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, externalID))
}

// =============================================================================
// Writes
// =============================================================================

// Insert writes a fresh listing row. A lost identity race comes back as
// ErrUniqueViolation.
func (s *PostgresStore) Insert(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listing (
			id, external_id, listing_data_source,
			address_unit, address_street, address_city, address_state,
			longitude_text, latitude_text, longitude, latitude,
			bedrooms, bathrooms, listing_price, year_built, home_type, living_area,
			rent_zestimate, photo_count, days_on_zillow,
			hdp_url, virtual_tour_url, street_view_tile_image_url_medium_lat_long, general_description,
			price_history, nearby_homes, interior_description, overview, property_description, getting_around_scores,
			photos, utilities, tags, unit_amenities,
			has_approved_third_party_virtual_tour_url, is_instant_offer_enabled, is_off_market, is_listed_by_management_company,
			availability_date, address_norm
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40
		)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		l.ID, l.ExternalID, l.Source,
		l.AddressUnit, l.AddressStreet, l.AddressCity, l.AddressState,
		l.LongitudeText, l.LatitudeText, l.Longitude, l.Latitude,
		l.Bedrooms, l.Bathrooms, l.ListingPrice, l.YearBuilt, l.HomeType, l.LivingArea,
		l.RentZestimate, l.PhotoCount, l.DaysOnMarket,
		l.HdpURL, l.VirtualTourURL, l.StreetViewTileURL, l.GeneralDescription,
		l.PriceHistory, l.NearbyHomes, l.InteriorDescription, l.Overview, l.PropertyDescription, l.GettingAroundScores,
		l.Photos, l.Utilities, l.Tags, l.UnitAmenities,
		l.HasVirtualTour, l.IsInstantOffer, l.IsOffMarket, l.IsManagedByCompany,
		l.AvailabilityDate, l.AddressNorm,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	return mapPgError(err)
}

// Merge folds a record into the stored row: non-null incoming values win,
// null incoming values never erase, collections and documents are replaced
// wholesale when present. The stored external id is filled when null but
// never replaced. The address projection is recomputed from the merged
// values inside the same transaction.
func (s *PostgresStore) Merge(ctx context.Context, id uuid.UUID, rec *models.Record) (*models.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE listing SET
			external_id = COALESCE(external_id, $2),
			address_unit = COALESCE($3, address_unit),
			address_street = COALESCE($4, address_street),
			address_city = COALESCE($5, address_city),
			address_state = COALESCE($6, address_state),
			longitude_text = COALESCE($7, longitude_text),
			latitude_text = COALESCE($8, latitude_text),
			longitude = COALESCE($9, longitude),
			latitude = COALESCE($10, latitude),
			bedrooms = COALESCE($11, bedrooms),
			bathrooms = COALESCE($12, bathrooms),
			listing_price = COALESCE($13, listing_price),
			year_built = COALESCE($14, year_built),
			home_type = COALESCE($15, home_type),
			living_area = COALESCE($16, living_area),
			rent_zestimate = COALESCE($17, rent_zestimate),
			photo_count = COALESCE($18, photo_count),
			days_on_zillow = COALESCE($19, days_on_zillow),
			hdp_url = COALESCE($20, hdp_url),
			virtual_tour_url = COALESCE($21, virtual_tour_url),
			street_view_tile_image_url_medium_lat_long = COALESCE($22, street_view_tile_image_url_medium_lat_long),
			general_description = COALESCE($23, general_description),
			price_history = COALESCE($24, price_history),
			nearby_homes = COALESCE($25, nearby_homes),
			interior_description = COALESCE($26, interior_description),
			overview = COALESCE($27, overview),
			property_description = COALESCE($28, property_description),
			getting_around_scores = COALESCE($29, getting_around_scores),
			photos = COALESCE($30, photos),
			utilities = COALESCE($31, utilities),
			tags = COALESCE($32, tags),
			unit_amenities = COALESCE($33, unit_amenities),
			has_approved_third_party_virtual_tour_url = COALESCE($34, has_approved_third_party_virtual_tour_url),
			is_instant_offer_enabled = COALESCE($35, is_instant_offer_enabled),
			is_off_market = COALESCE($36, is_off_market),
			is_listed_by_management_company = COALESCE($37, is_listed_by_management_company),
			availability_date = COALESCE($38, availability_date),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query,
		id, rec.ExternalID,
		rec.AddressUnit, rec.AddressStreet, rec.AddressCity, rec.AddressState,
		rec.LongitudeText, rec.LatitudeText, rec.Longitude, rec.Latitude,
		rec.Bedrooms, rec.Bathrooms, rec.ListingPrice, rec.YearBuilt, rec.HomeType, rec.LivingArea,
		rec.RentZestimate, rec.PhotoCount, rec.DaysOnMarket,
		rec.HdpURL, rec.VirtualTourURL, rec.StreetViewTileURL, rec.GeneralDescription,
		rec.PriceHistory, rec.NearbyHomes, rec.InteriorDescription, rec.Overview, rec.PropertyDescription, rec.GettingAroundScores,
		rec.Photos, rec.Utilities, rec.Tags, rec.UnitAmenities,
		rec.HasVirtualTour, rec.IsInstantOffer, rec.IsOffMarket, rec.IsManagedByCompany,
		rec.AvailabilityDate,
	))
	if err != nil {
		return nil, mapPgError(err)
	}
	if l == nil {
		return nil, fmt.Errorf("merge target %s not found", id)
	}

	norm := l.NormalizedAddress()
	if norm != l.AddressNorm {
		if _, err := tx.Exec(ctx, `UPDATE listing SET address_norm = $2 WHERE id = $1`, id, norm); err != nil {
			return nil, err
		}
		l.AddressNorm = norm
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// =============================================================================
// Fuzzy index
// =============================================================================

// Candidates runs a trigram search over the normalized address projection.
// Results are ordered by descending score; a fresh call re-executes the
// search.
func (s *PostgresStore) Candidates(ctx context.Context, addressNorm string, minSimilarity float64, limit int) ([]models.Candidate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SET LOCAL does not take bind parameters; the threshold is a float under
	// our control.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL pg_trgm.similarity_threshold = %.4f", minSimilarity)); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, address_norm, similarity(address_norm, $1) AS score
		FROM listing
		WHERE address_norm % $1
		ORDER BY score DESC, id
		LIMIT $2`, addressNorm, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ListingID, &c.AddressNorm, &c.Score); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, tx.Commit(ctx)
}

// WithAddressLock serializes fuzzy resolution for one normalized address.
// The lock is advisory, keyed on the hash of the projection, and held on a
// pinned connection so the unlock pairs with the lock's session.
func (s *PostgresStore) WithAddressLock(ctx context.Context, addressNorm string, fn func(context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, addressNorm); err != nil {
		return err
	}
	defer func() {
		// If the unlock fails the release below closes the session, which
		// drops the lock anyway.
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, addressNorm)
	}()

	return fn(ctx)
}

// =============================================================================
// Search reads
// =============================================================================

// FuzzySearch scores listings against free text over both the address
// projection and the general description, deduped per row via GREATEST.
func (s *PostgresStore) FuzzySearch(ctx context.Context, text string, minSimilarity float64, limit int) ([]models.Listing, []float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL pg_trgm.similarity_threshold = %.4f", minSimilarity)); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+listingColumns+`,
			GREATEST(similarity(address_norm, $1), similarity(general_description, $1)) AS score
		FROM listing
		WHERE address_norm % $1 OR general_description % $1
		ORDER BY score DESC, id
		LIMIT $2`, text, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	var scores []float64
	for rows.Next() {
		var l models.Listing
		var score float64
		if err := rows.Scan(append(scanDest(&l), &score)...); err != nil {
			return nil, nil, err
		}
		listings = append(listings, l)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return listings, scores, tx.Commit(ctx)
}

// ByBoundingBox filters on the parsed numeric coordinates; rows whose
// provider only supplied textual coordinates are not matched.
func (s *PostgresStore) ByBoundingBox(ctx context.Context, latMin, latMax, lngMin, lngMax float64) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listing
		WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4
		ORDER BY id`, latMin, latMax, lngMin, lngMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(scanDest(&l)...); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// RunQuery executes a compiled query-spec statement under a short statement
// timeout and returns generic rows.
func (s *PostgresStore) RunQuery(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL statement_timeout = '2000ms'`); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(fields))
		for i, fd := range fields {
			m[fd.Name] = values[i]
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// =============================================================================
// Listing matches
// =============================================================================

func (s *PostgresStore) InsertListingMatch(ctx context.Context, m *models.ListingMatch) error {
	query := `
		INSERT INTO listing_matches (matched_id, incoming_id, confidence, match_reasons, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (matched_id, incoming_id) DO NOTHING
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		m.MatchedID, m.IncomingID, m.Confidence, m.MatchReasons, m.Status, m.CreatedAt,
	).Scan(&m.ID)

	if err == pgx.ErrNoRows {
		return nil // pair already recorded
	}
	return err
}

// RecentlyUpdated returns listings touched since the given time, oldest
// first, for the sweep to re-examine.
func (s *PostgresStore) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listing
		WHERE updated_at >= $1
		ORDER BY updated_at
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(scanDest(&l)...); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
