package database

import (
	"fmt"
	"strconv"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into $n for Postgres. Queries must not carry '?' in literals.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) serialPK() string {
	if d == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// lockListingQuery takes a row lock on Postgres. SQLite already holds the database
// write lock once the immediate transaction has begun.
func (d Dialect) lockListingQuery() string {
	if d == DialectPostgres {
		return `SELECT id FROM listings WHERE id = ? FOR UPDATE`
	}
	return `SELECT id FROM listings WHERE id = ?`
}

func schema(d Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS listings (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            title TEXT NOT NULL,
            price_per_day BIGINT NOT NULL CHECK (price_per_day >= 0),
            is_available BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            listing_id TEXT NOT NULL REFERENCES listings(id),
            renter_id TEXT NOT NULL,
            owner_id TEXT NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            total_price BIGINT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            message TEXT NOT NULL DEFAULT '',
            paid BOOLEAN NOT NULL DEFAULT FALSE,
            paid_at TIMESTAMP NULL,
            version BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            CHECK (renter_id <> owner_id),
            CHECK (start_date <= end_date)
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS availability (
            id %s,
            listing_id TEXT NOT NULL REFERENCES listings(id),
            date TEXT NOT NULL,
            is_available BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP NOT NULL,
            UNIQUE (listing_id, date)
        )`, d.serialPK()),
		`CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL REFERENCES bookings(id),
            external_intent_id TEXT NOT NULL UNIQUE,
            amount BIGINT NOT NULL,
            platform_fee BIGINT NOT NULL,
            owner_amount BIGINT NOT NULL,
            currency TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            CHECK (platform_fee + owner_amount = amount)
        )`,
		`CREATE TABLE IF NOT EXISTS reviews (
            id TEXT PRIMARY KEY,
            listing_id TEXT NOT NULL REFERENCES listings(id),
            booking_id TEXT NOT NULL REFERENCES bookings(id),
            reviewer_id TEXT NOT NULL,
            rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
            comment TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            UNIQUE (booking_id, reviewer_id)
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS compensation_tasks (
            id %s,
            task_type TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NULL,
            created_at TIMESTAMP NOT NULL,
            processed_at TIMESTAMP NULL,
            next_retry_at TIMESTAMP NULL
        )`, d.serialPK()),

		`CREATE INDEX IF NOT EXISTS idx_bookings_listing_id ON bookings(listing_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner_id ON bookings(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_renter_id ON bookings(renter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_end ON bookings(status, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booking_id ON payments(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_listing_id ON reviews(listing_id)`,
		`CREATE INDEX IF NOT EXISTS idx_compensation_tasks_status ON compensation_tasks(status, next_retry_at)`,
	}
}
