package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"listing_store/similarity"
)

// Listing is the canonical listing row. The store assigns the surrogate ID;
// (Source, ExternalID) is the natural key. Absent attributes are nil, never
// zero values, so that merges and aggregates can tell "unknown" from "zero".
type Listing struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ExternalID *string   `json:"external_id" db:"external_id"`
	Source     string    `json:"listing_data_source" db:"listing_data_source"`

	AddressUnit   *string `json:"address_unit" db:"address_unit"`
	AddressStreet *string `json:"address_street" db:"address_street"`
	AddressCity   *string `json:"address_city" db:"address_city"`
	AddressState  *string `json:"address_state" db:"address_state"`

	// Provider-original coordinate strings are kept verbatim alongside the
	// parsed values; the two may disagree.
	LongitudeText *string  `json:"longitude_text" db:"longitude_text"`
	LatitudeText  *string  `json:"latitude_text" db:"latitude_text"`
	Longitude     *float64 `json:"longitude" db:"longitude"`
	Latitude      *float64 `json:"latitude" db:"latitude"`

	Bedrooms      *float64 `json:"bedrooms" db:"bedrooms"`
	Bathrooms     *float64 `json:"bathrooms" db:"bathrooms"`
	ListingPrice  *float64 `json:"listing_price" db:"listing_price"`
	YearBuilt     *int     `json:"year_built" db:"year_built"`
	HomeType      *string  `json:"home_type" db:"home_type"`
	LivingArea    *float64 `json:"living_area" db:"living_area"`
	RentZestimate *float64 `json:"rent_zestimate" db:"rent_zestimate"`
	PhotoCount    *int     `json:"photo_count" db:"photo_count"`
	DaysOnMarket  *int     `json:"days_on_zillow" db:"days_on_zillow"`

	HdpURL             *string `json:"hdp_url" db:"hdp_url"`
	VirtualTourURL     *string `json:"virtual_tour_url" db:"virtual_tour_url"`
	StreetViewTileURL  *string `json:"street_view_tile_image_url_medium_lat_long" db:"street_view_tile_image_url_medium_lat_long"`
	GeneralDescription *string `json:"general_description" db:"general_description"`

	// Opaque provider-shaped documents, stored and returned unchanged.
	PriceHistory        json.RawMessage `json:"price_history" db:"price_history"`
	NearbyHomes         json.RawMessage `json:"nearby_homes" db:"nearby_homes"`
	InteriorDescription json.RawMessage `json:"interior_description" db:"interior_description"`
	Overview            json.RawMessage `json:"overview" db:"overview"`
	PropertyDescription json.RawMessage `json:"property_description" db:"property_description"`
	GettingAroundScores json.RawMessage `json:"getting_around_scores" db:"getting_around_scores"`

	// Order-preserving string collections, replaced wholesale on merge.
	Photos        []string `json:"photos" db:"photos"`
	Utilities     []string `json:"utilities" db:"utilities"`
	Tags          []string `json:"tags" db:"tags"`
	UnitAmenities []string `json:"unit_amenities" db:"unit_amenities"`

	HasVirtualTour     *bool `json:"has_approved_third_party_virtual_tour_url" db:"has_approved_third_party_virtual_tour_url"`
	IsInstantOffer     *bool `json:"is_instant_offer_enabled" db:"is_instant_offer_enabled"`
	IsOffMarket        *bool `json:"is_off_market" db:"is_off_market"`
	IsManagedByCompany *bool `json:"is_listed_by_management_company" db:"is_listed_by_management_company"`

	AvailabilityDate *time.Time `json:"availability_date" db:"availability_date"`

	// AddressNorm is the trigram-indexed projection of the address fields,
	// written only by the store during upsert.
	AddressNorm string `json:"address_norm" db:"address_norm"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizedAddress concatenates the address fields and normalizes the
// result for the fuzzy index.
func (l *Listing) NormalizedAddress() string {
	return normalizeAddressParts(l.AddressUnit, l.AddressStreet, l.AddressCity, l.AddressState)
}

func normalizeAddressParts(parts ...*string) string {
	var b []string
	for _, p := range parts {
		if p != nil && *p != "" {
			b = append(b, *p)
		}
	}
	return similarity.NormalizeAddress(strings.Join(b, " "))
}

// Outcome reports how an upsert resolved.
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeUpdated        Outcome = "updated"
	OutcomeMergedViaFuzzy Outcome = "merged_via_fuzzy_match"
)
