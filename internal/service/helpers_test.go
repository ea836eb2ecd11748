package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/locking"
	"gearshare/internal/models"
	"gearshare/internal/payments"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type mockCompensator struct {
	mock.Mock
}

func (m *mockCompensator) EnqueueCancelIntent(ctx context.Context, bookingID, intentID string, cause error) error {
	return m.Called(ctx, bookingID, intentID, cause).Error(0)
}

type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db          *database.DB
	store       domain.Store
	provider    *payments.FakeProvider
	compensator *mockCompensator
	events      *eventRecorder
	bookings    *BookingService
	payments    *PaymentService
	reviews     *ReviewService
	market      *Marketplace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newTestEnvWithStore(t, db, db)
}

func newTestEnvWithStore(t *testing.T, db *database.DB, store domain.Store) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	for _, l := range []*models.Listing{
		{ID: "camera", OwnerID: "owner", Title: "Mirrorless camera", PricePerDay: 2500, IsAvailable: true},
		{ID: "tent", OwnerID: "owner", Title: "Four person tent", PricePerDay: 3000, IsAvailable: true},
		{ID: "drone", OwnerID: "owner", Title: "Retired drone", PricePerDay: 5000, IsAvailable: false},
	} {
		require.NoError(t, db.UpsertListing(ctx, l))
	}

	bus := events.NewEventBus()
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.handle)

	provider := payments.NewFakeProvider("hook-secret")
	comp := new(mockCompensator)

	bs := NewBookingService(store, locking.NewMemoryLocker(), bus, comp, BookingPolicy{MaxBookingDays: 30}, &logger)
	bs.now = func() time.Time { return fixedNow }
	ps := NewPaymentService(store, provider, comp, bus, PaymentPolicy{FeeRate: 0.10, Currency: "usd"}, &logger)
	ps.now = func() time.Time { return fixedNow }
	rs := NewReviewService(store, 0, &logger)

	return &testEnv{
		db:          db,
		store:       store,
		provider:    provider,
		compensator: comp,
		events:      rec,
		bookings:    bs,
		payments:    ps,
		reviews:     rs,
		market:      NewMarketplace(bs, ps, rs),
	}
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func (e *testEnv) request(t *testing.T, listingID, renterID, start, end string) *models.Booking {
	t.Helper()
	b, err := e.bookings.RequestBooking(context.Background(), BookingRequest{
		ListingID: listingID,
		RenterID:  renterID,
		StartDate: date(t, start),
		EndDate:   date(t, end),
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) approve(t *testing.T, bookingID string) *models.Booking {
	t.Helper()
	b, err := e.market.ProcessBooking(context.Background(), "owner", bookingID, "approve")
	require.NoError(t, err)
	return b
}

func (e *testEnv) available(t *testing.T, listingID, start, end string) bool {
	t.Helper()
	ok, err := e.db.IsRangeAvailable(context.Background(), listingID, date(t, start), date(t, end))
	require.NoError(t, err)
	return ok
}

func (e *testEnv) blocked(t *testing.T, listingID string) []string {
	t.Helper()
	dates, err := e.db.BlockedDates(context.Background(), listingID, date(t, "2024-01-01"), date(t, "2024-12-31"))
	require.NoError(t, err)
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, models.FormatDate(d))
	}
	return out
}

func requireKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}

// faultyStore fails selected writes to exercise rollback and compensation paths.
type faultyStore struct {
	domain.Store
	createPaymentErr error
	blockRangeErr    error
}

func (f *faultyStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if f.createPaymentErr != nil {
		return f.createPaymentErr
	}
	return f.Store.CreatePayment(ctx, p)
}

func (f *faultyStore) InTx(ctx context.Context, fn func(tx domain.UnitOfWork) error) error {
	return f.Store.InTx(ctx, func(tx domain.UnitOfWork) error {
		return fn(&faultyTx{UnitOfWork: tx, blockRangeErr: f.blockRangeErr})
	})
}

type faultyTx struct {
	domain.UnitOfWork
	blockRangeErr error
}

func (f *faultyTx) BlockRange(ctx context.Context, listingID string, start, end time.Time) error {
	if f.blockRangeErr != nil {
		return f.blockRangeErr
	}
	return f.UnitOfWork.BlockRange(ctx, listingID, start, end)
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
