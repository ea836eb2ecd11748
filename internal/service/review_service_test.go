package service

import (
	"context"
	"strings"
	"testing"

	"gearshare/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := approvedBooking(t, env, "camera", "2024-06-10", "2024-06-12")

	_, err := env.reviews.CreateReview(ctx, ReviewRequest{BookingID: b.ID, ReviewerID: "renter", Rating: 5})
	requireKind(t, err, domain.KindState)

	_, err = env.market.ProcessBooking(ctx, "owner", b.ID, "complete")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  ReviewRequest
		kind domain.Kind
	}{
		{"rating too low", ReviewRequest{BookingID: b.ID, ReviewerID: "renter", Rating: 0}, domain.KindValidation},
		{"rating too high", ReviewRequest{BookingID: b.ID, ReviewerID: "renter", Rating: 6}, domain.KindValidation},
		{"long comment", ReviewRequest{BookingID: b.ID, ReviewerID: "renter", Rating: 4, Comment: strings.Repeat("a", 2001)}, domain.KindValidation},
		{"other listing", ReviewRequest{ListingID: "tent", BookingID: b.ID, ReviewerID: "renter", Rating: 4}, domain.KindValidation},
		{"owner reviews", ReviewRequest{BookingID: b.ID, ReviewerID: "owner", Rating: 4}, domain.KindAuthorization},
		{"unknown booking", ReviewRequest{BookingID: "missing", ReviewerID: "renter", Rating: 4}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reviews.CreateReview(ctx, tt.req)
			requireKind(t, err, tt.kind)
		})
	}

	review, err := env.reviews.CreateReview(ctx, ReviewRequest{
		ListingID:  "camera",
		BookingID:  b.ID,
		ReviewerID: "renter",
		Rating:     4,
		Comment:    "  Sharp lens, clean sensor.  ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.Equal(t, "Sharp lens, clean sensor.", review.Comment)

	_, err = env.reviews.CreateReview(ctx, ReviewRequest{BookingID: b.ID, ReviewerID: "renter", Rating: 2})
	requireKind(t, err, domain.KindConflict)

	list, err := env.reviews.ListReviews(ctx, "camera")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Rating)

	empty, err := env.reviews.ListReviews(ctx, "tent")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = env.reviews.ListReviews(ctx, "missing")
	requireKind(t, err, domain.KindNotFound)
}
