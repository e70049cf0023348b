package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	count  = flag.Int("count", 25, "Number of listings to generate")
	out    = flag.String("out", "snapshots/zillow_sample.json", "Output file")
	seed   = flag.Int64("seed", 0, "Random seed (0 for time-based)")
	dupPct = flag.Int("dup-pct", 20, "Percent of listings emitted twice with variations")
)

// snapshotPhoto matches the provider's nested photo shape.
type snapshotPhoto struct {
	MixedSources struct {
		Jpeg []map[string]string `json:"jpeg"`
	} `json:"mixedSources"`
}

func main() {
	flag.Parse()

	faker := gofakeit.New(*seed)

	listings := make([]map[string]any, 0, *count*2)
	for i := 0; i < *count; i++ {
		l := generateListing(faker)
		listings = append(listings, l)

		if faker.Number(0, 99) < *dupPct {
			listings = append(listings, mutateListing(faker, l))
		}
	}

	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	log.Printf("Wrote %d listings to %s", len(listings), *out)
}

func generateListing(faker *gofakeit.Faker) map[string]any {
	addr := faker.Address()
	beds := float64(faker.Number(1, 5))
	baths := float64(faker.Number(1, 3))
	price := float64(faker.Number(1200, 9500))

	photos := make([]snapshotPhoto, faker.Number(1, 4))
	for i := range photos {
		photos[i].MixedSources.Jpeg = []map[string]string{
			{"url": faker.URL() + "/sm.jpg"},
			{"url": faker.URL() + "/lg.jpg"},
		}
	}

	history := []map[string]any{}
	for i := 0; i < faker.Number(0, 3); i++ {
		history = append(history, map[string]any{
			"date":  faker.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).Format("2006-01-02"),
			"event": faker.RandomString([]string{"Listed for rent", "Price change", "Listing removed"}),
			"price": price - float64(faker.Number(0, 400)),
		})
	}

	return map[string]any{
		"zpid": fmt.Sprintf("%d", faker.Number(10000000, 99999999)),
		"address": map[string]any{
			"streetAddress": addr.Street,
			"city":          addr.City,
			"state":         addr.State,
		},
		"longitude":             addr.Longitude,
		"latitude":              addr.Latitude,
		"bedrooms":              beds,
		"bathrooms":             baths,
		"price":                 price,
		"yearBuilt":             faker.Number(1920, 2024),
		"homeType":              faker.RandomString([]string{"APARTMENT", "CONDO", "TOWNHOUSE", "SINGLE_FAMILY"}),
		"livingArea":            float64(faker.Number(450, 3200)),
		"photoCount":            len(photos),
		"daysOnZillow":          faker.Number(0, 90),
		"hdpUrl":                "/homedetails/" + faker.UUID(),
		"description":           faker.Paragraph(1, 3, 12, " "),
		"priceHistory":          history,
		"photos":                photos,
		"isInstantOfferEnabled": faker.RandomString([]string{"Yes", "No"}),
		"isOffMarket":           faker.Bool(),
	}
}

// mutateListing emits a near-duplicate under a fresh id: slightly
// reworded street, small price drift. These exercise the fuzzy path.
func mutateListing(faker *gofakeit.Faker, l map[string]any) map[string]any {
	dup := map[string]any{}
	for k, v := range l {
		dup[k] = v
	}
	dup["zpid"] = fmt.Sprintf("%d", faker.Number(10000000, 99999999))

	if addr, ok := l["address"].(map[string]any); ok {
		street, _ := addr["streetAddress"].(string)
		dupAddr := map[string]any{}
		for k, v := range addr {
			dupAddr[k] = v
		}
		dupAddr["streetAddress"] = street + " " + faker.RandomString([]string{"Apt", "Unit"})
		dup["address"] = dupAddr
	}
	if price, ok := l["price"].(float64); ok {
		dup["price"] = price + float64(faker.Number(-50, 50))
	}
	return dup
}
