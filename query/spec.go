package query

import (
	"fmt"
	"strings"
)

// Spec is the client-facing shape of a structured read query. Every
// column, field, and operator is checked against an allowlist before
// any SQL is built; values only ever travel as bind parameters.
type Spec struct {
	Select   []string    `json:"select"`
	Where    []Condition `json:"where"`
	WhereAny []Condition `json:"where_any"`
	OrderBy  []Order     `json:"order_by"`
	Limit    int         `json:"limit"`
}

type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

var allowedSelect = map[string]bool{
	"id":                  true,
	"external_id":         true,
	"listing_data_source": true,
	"address_unit":        true,
	"address_street":      true,
	"address_city":        true,
	"address_state":       true,
	"longitude":           true,
	"latitude":            true,
	"longitude_text":      true,
	"latitude_text":       true,
	"bedrooms":            true,
	"bathrooms":           true,
	"listing_price":       true,
	"year_built":          true,
	"home_type":           true,
	"living_area":         true,
	"rent_zestimate":      true,
	"photo_count":         true,
	"days_on_zillow":      true,
	"hdp_url":             true,
	"virtual_tour_url":    true,
	"has_approved_third_party_virtual_tour_url":  true,
	"street_view_tile_image_url_medium_lat_long": true,
	"general_description":             true,
	"price_history":                   true,
	"nearby_homes":                    true,
	"interior_description":            true,
	"overview":                        true,
	"property_description":            true,
	"getting_around_scores":           true,
	"photos":                          true,
	"utilities":                       true,
	"tags":                            true,
	"unit_amenities":                  true,
	"is_off_market":                   true,
	"is_instant_offer_enabled":        true,
	"is_listed_by_management_company": true,
	"availability_date":               true,
	"address_norm":                    true,
	"created_at":                      true,
	"updated_at":                      true,
}

var allowedFields = map[string]bool{
	"external_id":         true,
	"listing_data_source": true,
	"address_city":        true,
	"address_state":       true,
	"bedrooms":            true,
	"bathrooms":           true,
	"listing_price":       true,
	"year_built":          true,
	"home_type":           true,
	"living_area":         true,
	"days_on_zillow":      true,
	"availability_date":   true,
	"updated_at":          true,
	"created_at":          true,
}

var allowedOps = map[string]bool{
	"=":       true,
	"!=":      true,
	">":       true,
	">=":      true,
	"<":       true,
	"<=":      true,
	"ilike":   true,
	"in":      true,
	"between": true,
}

// Sanitize rejects any column, field, or operator outside the allowlists
// and clamps the limit. It mutates the spec in place.
func (s *Spec) Sanitize() error {
	if len(s.Select) == 0 {
		return fmt.Errorf("select must name at least one column")
	}
	for _, col := range s.Select {
		if !allowedSelect[col] {
			return fmt.Errorf("column %q is not queryable", col)
		}
	}
	for _, c := range append(append([]Condition{}, s.Where...), s.WhereAny...) {
		if !allowedFields[c.Field] {
			return fmt.Errorf("field %q is not filterable", c.Field)
		}
		if !allowedOps[c.Op] {
			return fmt.Errorf("operator %q is not allowed", c.Op)
		}
		if err := checkValue(c); err != nil {
			return err
		}
	}
	for _, o := range s.OrderBy {
		if !allowedFields[o.Field] {
			return fmt.Errorf("field %q is not orderable", o.Field)
		}
	}
	if s.Limit <= 0 {
		s.Limit = DefaultLimit
	}
	if s.Limit > MaxLimit {
		s.Limit = MaxLimit
	}
	return nil
}

func checkValue(c Condition) error {
	switch c.Op {
	case "in":
		vals, ok := c.Value.([]any)
		if !ok || len(vals) == 0 {
			return fmt.Errorf("field %q: in requires a non-empty list", c.Field)
		}
	case "between":
		vals, ok := c.Value.([]any)
		if !ok || len(vals) != 2 {
			return fmt.Errorf("field %q: between requires exactly two values", c.Field)
		}
	default:
		if _, ok := c.Value.([]any); ok {
			return fmt.Errorf("field %q: %s takes a scalar value", c.Field, c.Op)
		}
	}
	return nil
}

// Build renders the sanitized spec to parameterized SQL. Call Sanitize
// first; Build trusts the field and operator names.
func (s *Spec) Build() (string, []any) {
	var sb strings.Builder
	args := []any{}

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(s.Select, ", "))
	sb.WriteString(" FROM listing")

	clauses := []string{}
	for _, c := range s.Where {
		clauses = append(clauses, renderCondition(c, &args))
	}
	if len(s.WhereAny) > 0 {
		ors := []string{}
		for _, c := range s.WhereAny {
			ors = append(ors, renderCondition(c, &args))
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	if len(s.OrderBy) > 0 {
		parts := []string{}
		for _, o := range s.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, o.Field+" "+dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	args = append(args, s.Limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))

	return sb.String(), args
}

func renderCondition(c Condition, args *[]any) string {
	switch c.Op {
	case "in":
		vals := c.Value.([]any)
		*args = append(*args, vals)
		return fmt.Sprintf("%s = ANY($%d)", c.Field, len(*args))
	case "between":
		vals := c.Value.([]any)
		*args = append(*args, vals[0])
		lo := len(*args)
		*args = append(*args, vals[1])
		return fmt.Sprintf("%s BETWEEN $%d AND $%d", c.Field, lo, len(*args))
	case "ilike":
		*args = append(*args, c.Value)
		return fmt.Sprintf("%s ILIKE $%d", c.Field, len(*args))
	default:
		*args = append(*args, c.Value)
		return fmt.Sprintf("%s %s $%d", c.Field, c.Op, len(*args))
	}
}
