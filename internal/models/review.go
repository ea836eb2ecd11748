package models

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listing_id"`
	BookingID  string    `json:"booking_id"`
	ReviewerID string    `json:"reviewer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
