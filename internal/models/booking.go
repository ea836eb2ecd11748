package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Valid reports whether s is one of the known booking states.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingApproved, BookingRejected, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingRejected || s == BookingCancelled || s == BookingCompleted
}

// HoldsDates reports whether a booking in state s owns its dates in the availability ledger.
func (s BookingStatus) HoldsDates() bool {
	return s == BookingApproved
}

type Booking struct {
	ID         string        `json:"id"`
	ListingID  string        `json:"listing_id"`
	RenterID   string        `json:"renter_id"`
	OwnerID    string        `json:"owner_id"`
	StartDate  time.Time     `json:"start_date"`
	EndDate    time.Time     `json:"end_date"`
	TotalPrice int64         `json:"total_price"`
	Status     BookingStatus `json:"status"`
	Message    string        `json:"message,omitempty"`
	Paid       bool          `json:"paid"`
	PaidAt     *time.Time    `json:"paid_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Version    int64         `json:"version"`
}

// Days is the number of rental days, end date included.
func (b *Booking) Days() int {
	return DaysInclusive(b.StartDate, b.EndDate)
}

// IsParty reports whether userID is the renter or the owner of the booking.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.RenterID || userID == b.OwnerID)
}
