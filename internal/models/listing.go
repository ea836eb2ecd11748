package models

import "time"

// Listing is the rentable item. The booking core only reads it.
type Listing struct {
	ID          string    `yaml:"id" json:"id"`
	OwnerID     string    `yaml:"owner_id" json:"owner_id"`
	Title       string    `yaml:"title" json:"title"`
	PricePerDay int64     `yaml:"price_per_day" json:"price_per_day"`
	IsAvailable bool      `yaml:"is_available" json:"is_available"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// TotalPrice is pricePerDay multiplied by the inclusive day count of the range.
func TotalPrice(pricePerDay int64, start, end time.Time) int64 {
	return pricePerDay * int64(DaysInclusive(start, end))
}
