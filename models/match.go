package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Candidate is one fuzzy-index hit: a listing whose normalized address
// cleared the similarity threshold for a probe string.
type Candidate struct {
	ListingID   uuid.UUID `json:"listing_id" db:"listing_id"`
	AddressNorm string    `json:"address_norm" db:"address_norm"`
	Score       float64   `json:"score" db:"score"`
}

// ListingMatch records a suspected duplicate pair found by the background
// sweep, held for manual review. The sweep never merges on its own.
type ListingMatch struct {
	ID           int64           `json:"id" db:"id"`
	MatchedID    uuid.UUID       `json:"matched_id" db:"matched_id"`
	IncomingID   uuid.UUID       `json:"incoming_id" db:"incoming_id"`
	Confidence   float64         `json:"confidence" db:"confidence"`
	MatchReasons json.RawMessage `json:"match_reasons" db:"match_reasons"`
	Status       string          `json:"status" db:"status"` // pending, confirmed, rejected
	ReviewedAt   *time.Time      `json:"reviewed_at" db:"reviewed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Match status
const (
	MatchStatusPending   = "pending"
	MatchStatusConfirmed = "confirmed"
	MatchStatusRejected  = "rejected"
)
