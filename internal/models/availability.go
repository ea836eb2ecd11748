package models

import "time"

// AvailabilityEntry is an explicit per-day record for a listing.
// A day without an entry is available.
type AvailabilityEntry struct {
	ListingID   string    `json:"listing_id"`
	Date        time.Time `json:"date"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
}
