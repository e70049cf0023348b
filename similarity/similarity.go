// Package similarity implements the address normalization and trigram
// similarity metric shared by the listing store's dedup paths. The metric
// mirrors Postgres pg_trgm (word-padded trigrams, Jaccard overlap) so that
// Go-side scores line up with what the database-side index reports.
package similarity

import (
	"regexp"
	"strings"
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"crescent":  "cres",
		"terrace":   "ter",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"northeast": "ne",
		"northwest": "nw",
		"southeast": "se",
		"southwest": "sw",
		"apartment": "apt",
		"suite":     "ste",
		"floor":     "fl",
		"building":  "bldg",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// NormalizeAddress case-folds an address, strips punctuation, collapses
// whitespace, and rewrites common street-suffix and directional words to
// their canonical abbreviations, token by token.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	tokens := strings.Fields(addr)
	for i, tok := range tokens {
		if abbrev, ok := streetReplacements[tok]; ok {
			tokens[i] = abbrev
		}
	}
	addr = strings.Join(tokens, " ")
	return multiSpaceRegex.ReplaceAllString(addr, " ")
}

// Trigrams returns the set of 3-character shingles of s, computed the way
// pg_trgm does: each word is padded with two leading and one trailing
// space before shingling.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = struct{}{}
		}
	}
	return set
}

// Score returns the trigram overlap ratio between a and b in [0, 1]:
// shared trigrams divided by the size of the union. The measure is
// symmetric and monotonic in shared-substring length. Two empty strings
// score zero.
func Score(a, b string) float64 {
	ta := Trigrams(a)
	tb := Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}

	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
