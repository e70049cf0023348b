package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"listing_store/models"
)

const (
	maxPriceHistory = 5
	maxNearbyHomes  = 10
)

// zillowListing mirrors the provider snapshot shape. Fields missing in a
// snapshot decode to their zero value and translate to nil on the record.
type zillowListing struct {
	Zpid    json.Number `json:"zpid"`
	Address struct {
		StreetAddress string `json:"streetAddress"`
		Unit          string `json:"unit"`
		City          string `json:"city"`
		State         string `json:"state"`
	} `json:"address"`
	Longitude       *float64 `json:"longitude"`
	Latitude        *float64 `json:"latitude"`
	Bedrooms        *float64 `json:"bedrooms"`
	Bathrooms       *float64 `json:"bathrooms"`
	Price           *float64 `json:"price"`
	YearBuilt       *int     `json:"yearBuilt"`
	HomeType        string   `json:"homeType"`
	LivingArea      *float64 `json:"livingArea"`
	LivingAreaValue *float64 `json:"livingAreaValue"`
	RentZestimate   *float64 `json:"rentZestimate"`
	PhotoCount      *int     `json:"photoCount"`
	DaysOnZillow    *int     `json:"daysOnZillow"`
	DaysOnZillowAlt *int     `json:"days_on_zillow"`
	HdpURL          string   `json:"hdpUrl"`
	VirtualTourURL  string   `json:"virtualTourUrl"`
	StreetViewTile  string   `json:"streetViewTileImageUrlMediumLatLong"`
	Description     string   `json:"description"`

	PriceHistory []struct {
		Date  string   `json:"date"`
		Event string   `json:"event"`
		Price *float64 `json:"price"`
	} `json:"priceHistory"`
	NearbyHomes []string `json:"nearbyHomes"`

	Photos []struct {
		MixedSources struct {
			Jpeg []struct {
				URL string `json:"url"`
			} `json:"jpeg"`
		} `json:"mixedSources"`
	} `json:"photos"`

	Utilities     []string `json:"utilities"`
	Tags          []string `json:"tags"`
	UnitAmenities []string `json:"unit_amenities"`

	InteriorFull        json.RawMessage `json:"interior_full"`
	Overview            json.RawMessage `json:"overview"`
	Property            json.RawMessage `json:"property"`
	GettingAround       json.RawMessage `json:"getting_around"`
	HasVirtualTour      *bool           `json:"hasApprovedThirdPartyVirtualTourUrl"`
	IsInstantOffer      string          `json:"isInstantOfferEnabled"`
	IsOffMarket         *bool           `json:"isOffMarket"`
	IsManagedByCompany  *bool           `json:"is_listed_by_management_company"`
	AvailabilityDateRaw string          `json:"availability_date"`
}

// LoadZillowSnapshot reads a provider snapshot file and normalizes each
// entry into a Record. Entries without a zpid are skipped.
func LoadZillowSnapshot(path string) ([]*models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseZillowSnapshot(data)
}

// ParseZillowSnapshot normalizes a raw snapshot payload.
func ParseZillowSnapshot(data []byte) ([]*models.Record, error) {
	var items []zillowListing
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	records := make([]*models.Record, 0, len(items))
	for i := range items {
		rec := translateZillow(&items[i])
		if rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func translateZillow(z *zillowListing) *models.Record {
	zpid := z.Zpid.String()
	if zpid == "" {
		return nil
	}

	rec := &models.Record{
		ExternalID: &zpid,
		Source:     "zillow",

		AddressStreet: optional(z.Address.StreetAddress),
		AddressUnit:   optional(z.Address.Unit),
		AddressCity:   optional(z.Address.City),
		AddressState:  optional(z.Address.State),

		Longitude: z.Longitude,
		Latitude:  z.Latitude,

		Bedrooms:      z.Bedrooms,
		Bathrooms:     z.Bathrooms,
		ListingPrice:  z.Price,
		YearBuilt:     z.YearBuilt,
		HomeType:      optional(z.HomeType),
		RentZestimate: z.RentZestimate,
		PhotoCount:    z.PhotoCount,

		HdpURL:             optional(z.HdpURL),
		VirtualTourURL:     optional(z.VirtualTourURL),
		StreetViewTileURL:  optional(z.StreetViewTile),
		GeneralDescription: optional(z.Description),

		InteriorDescription: z.InteriorFull,
		Overview:            z.Overview,
		PropertyDescription: z.Property,
		GettingAroundScores: z.GettingAround,

		Utilities:     z.Utilities,
		Tags:          z.Tags,
		UnitAmenities: z.UnitAmenities,

		HasVirtualTour:     z.HasVirtualTour,
		IsOffMarket:        z.IsOffMarket,
		IsManagedByCompany: z.IsManagedByCompany,
	}

	if z.Longitude != nil {
		rec.LongitudeText = optional(formatCoord(*z.Longitude))
	}
	if z.Latitude != nil {
		rec.LatitudeText = optional(formatCoord(*z.Latitude))
	}

	// livingArea wins over livingAreaValue when both are present.
	if z.LivingArea != nil {
		rec.LivingArea = z.LivingArea
	} else {
		rec.LivingArea = z.LivingAreaValue
	}
	if z.DaysOnZillow != nil {
		rec.DaysOnMarket = z.DaysOnZillow
	} else {
		rec.DaysOnMarket = z.DaysOnZillowAlt
	}

	if z.IsInstantOffer != "" {
		v := z.IsInstantOffer == "Yes"
		rec.IsInstantOffer = &v
	}

	rec.Photos = translatePhotos(z)
	rec.PriceHistory = translatePriceHistory(z)
	rec.NearbyHomes = translateNearbyHomes(z)

	if z.AvailabilityDateRaw != "" {
		if t, err := time.Parse("2006-01-02", z.AvailabilityDateRaw); err == nil {
			rec.AvailabilityDate = &t
		}
	}

	return rec
}

// translatePhotos keeps the highest-resolution jpeg per photo entry.
func translatePhotos(z *zillowListing) []string {
	if len(z.Photos) == 0 {
		return nil
	}
	urls := make([]string, 0, len(z.Photos))
	for _, p := range z.Photos {
		jpeg := p.MixedSources.Jpeg
		if len(jpeg) == 0 {
			continue
		}
		urls = append(urls, jpeg[len(jpeg)-1].URL)
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// translatePriceHistory keeps the most recent entries, newest first.
func translatePriceHistory(z *zillowListing) json.RawMessage {
	if len(z.PriceHistory) == 0 {
		return nil
	}

	entries := make([]map[string]any, 0, len(z.PriceHistory))
	for _, h := range z.PriceHistory {
		entries = append(entries, map[string]any{
			"date":  h.Date,
			"event": h.Event,
			"price": h.Price,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i]["date"].(string) > entries[j]["date"].(string)
	})
	if len(entries) > maxPriceHistory {
		entries = entries[:maxPriceHistory]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil
	}
	return data
}

// translateNearbyHomes parses the provider's embedded JSON strings down
// to external id plus address, capped.
func translateNearbyHomes(z *zillowListing) json.RawMessage {
	if len(z.NearbyHomes) == 0 {
		return nil
	}

	type nearbyHome struct {
		ExternalID json.Number     `json:"external_id"`
		Address    json.RawMessage `json:"address"`
	}

	homes := make([]nearbyHome, 0, maxNearbyHomes)
	for _, raw := range z.NearbyHomes {
		if len(homes) >= maxNearbyHomes {
			break
		}
		var parsed struct {
			Zpid    json.Number     `json:"zpid"`
			Address json.RawMessage `json:"address"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			continue
		}
		homes = append(homes, nearbyHome{ExternalID: parsed.Zpid, Address: parsed.Address})
	}
	if len(homes) == 0 {
		return nil
	}

	data, err := json.Marshal(homes)
	if err != nil {
		return nil
	}
	return data
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
