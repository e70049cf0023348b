package models

import (
	"encoding/json"
	"time"
)

// Record is a normalized ingestion payload as delivered by the ETL
// collaborator: every unknown field is nil. It mirrors the Listing
// attribute set minus the store-owned columns (surrogate id, projection,
// timestamps).
type Record struct {
	ExternalID *string
	Source     string

	AddressUnit   *string
	AddressStreet *string
	AddressCity   *string
	AddressState  *string

	LongitudeText *string
	LatitudeText  *string
	Longitude     *float64
	Latitude      *float64

	Bedrooms      *float64
	Bathrooms     *float64
	ListingPrice  *float64
	YearBuilt     *int
	HomeType      *string
	LivingArea    *float64
	RentZestimate *float64
	PhotoCount    *int
	DaysOnMarket  *int

	HdpURL             *string
	VirtualTourURL     *string
	StreetViewTileURL  *string
	GeneralDescription *string

	PriceHistory        json.RawMessage
	NearbyHomes         json.RawMessage
	InteriorDescription json.RawMessage
	Overview            json.RawMessage
	PropertyDescription json.RawMessage
	GettingAroundScores json.RawMessage

	Photos        []string
	Utilities     []string
	Tags          []string
	UnitAmenities []string

	HasVirtualTour     *bool
	IsInstantOffer     *bool
	IsOffMarket        *bool
	IsManagedByCompany *bool

	AvailabilityDate *time.Time
}

// HasExternalID reports whether the record carries a usable external id.
func (r *Record) HasExternalID() bool {
	return r.ExternalID != nil && *r.ExternalID != ""
}

// AddressComplete reports whether the record carries enough address to
// attempt fuzzy resolution (street + city + state).
func (r *Record) AddressComplete() bool {
	return notEmpty(r.AddressStreet) && notEmpty(r.AddressCity) && notEmpty(r.AddressState)
}

func notEmpty(s *string) bool {
	return s != nil && *s != ""
}

// NormalizedAddress returns the fuzzy-index projection for the record.
func (r *Record) NormalizedAddress() string {
	return normalizeAddressParts(r.AddressUnit, r.AddressStreet, r.AddressCity, r.AddressState)
}

// ApplyTo merges the record into a stored listing: a non-nil incoming value
// overwrites, a nil incoming value never erases. Collections and opaque
// documents are replaced wholesale when present. Identity columns are never
// rewritten; a stored nil external id may be filled, never replaced.
//
// This is the reference merge; the Postgres store enforces the same rules
// with per-column COALESCE.
func (r *Record) ApplyTo(l *Listing) {
	if l.ExternalID == nil && r.HasExternalID() {
		l.ExternalID = r.ExternalID
	}

	applyString(&l.AddressUnit, r.AddressUnit)
	applyString(&l.AddressStreet, r.AddressStreet)
	applyString(&l.AddressCity, r.AddressCity)
	applyString(&l.AddressState, r.AddressState)
	applyString(&l.LongitudeText, r.LongitudeText)
	applyString(&l.LatitudeText, r.LatitudeText)
	applyString(&l.HomeType, r.HomeType)
	applyString(&l.HdpURL, r.HdpURL)
	applyString(&l.VirtualTourURL, r.VirtualTourURL)
	applyString(&l.StreetViewTileURL, r.StreetViewTileURL)
	applyString(&l.GeneralDescription, r.GeneralDescription)

	applyFloat(&l.Longitude, r.Longitude)
	applyFloat(&l.Latitude, r.Latitude)
	applyFloat(&l.Bedrooms, r.Bedrooms)
	applyFloat(&l.Bathrooms, r.Bathrooms)
	applyFloat(&l.ListingPrice, r.ListingPrice)
	applyFloat(&l.LivingArea, r.LivingArea)
	applyFloat(&l.RentZestimate, r.RentZestimate)

	applyInt(&l.YearBuilt, r.YearBuilt)
	applyInt(&l.PhotoCount, r.PhotoCount)
	applyInt(&l.DaysOnMarket, r.DaysOnMarket)

	applyBool(&l.HasVirtualTour, r.HasVirtualTour)
	applyBool(&l.IsInstantOffer, r.IsInstantOffer)
	applyBool(&l.IsOffMarket, r.IsOffMarket)
	applyBool(&l.IsManagedByCompany, r.IsManagedByCompany)

	if r.AvailabilityDate != nil {
		t := *r.AvailabilityDate
		l.AvailabilityDate = &t
	}

	applyJSON(&l.PriceHistory, r.PriceHistory)
	applyJSON(&l.NearbyHomes, r.NearbyHomes)
	applyJSON(&l.InteriorDescription, r.InteriorDescription)
	applyJSON(&l.Overview, r.Overview)
	applyJSON(&l.PropertyDescription, r.PropertyDescription)
	applyJSON(&l.GettingAroundScores, r.GettingAroundScores)

	applySlice(&l.Photos, r.Photos)
	applySlice(&l.Utilities, r.Utilities)
	applySlice(&l.Tags, r.Tags)
	applySlice(&l.UnitAmenities, r.UnitAmenities)

	l.AddressNorm = l.NormalizedAddress()
}

// NewListing builds a fresh listing from the record. The caller assigns the
// surrogate id and timestamps.
func (r *Record) NewListing() *Listing {
	l := &Listing{Source: r.Source}
	if r.HasExternalID() {
		l.ExternalID = r.ExternalID
	}
	r.ApplyTo(l)
	return l
}

func applyString(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func applyFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func applyInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func applyBool(dst **bool, src *bool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func applyJSON(dst *json.RawMessage, src json.RawMessage) {
	if src != nil {
		*dst = append(json.RawMessage(nil), src...)
	}
}

func applySlice(dst *[]string, src []string) {
	if src != nil {
		*dst = append([]string(nil), src...)
	}
}
