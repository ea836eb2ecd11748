package api

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"gearshare/internal/export"
	"gearshare/internal/lifecycle"
	"gearshare/internal/models"
	"gearshare/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody      = 64 << 10
	defaultCalendarDays = 90
)

type createPaymentIntentRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
	// Amount is in major currency units, as the web client sends it.
	Amount *float64 `json:"amount"`
}

type processBookingRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

type createBookingRequest struct {
	ListingID string `json:"listing_id" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	Message   string `json:"message"`
}

type initiatePaymentRequest struct {
	Amount *int64 `json:"amount"`
}

type createReviewRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	Rating    int    `json:"rating" binding:"required"`
	Comment   string `json:"comment"`
}

// handleCreatePaymentIntent serves the web client's create-payment-intent call.
func (s *HTTPServer) handleCreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bookingId is required")
		return
	}

	var amount *int64
	if req.Amount != nil {
		cents := int64(math.Round(*req.Amount * 100))
		amount = &cents
	}

	res, err := s.market.InitiatePayment(c.Request.Context(), callerID(c), req.BookingID, amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleProcessBooking serves the web client's process-booking call.
func (s *HTTPServer) handleProcessBooking(c *gin.Context) {
	var req processBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bookingId and action are required")
		return
	}

	booking, err := s.market.ProcessBooking(c.Request.Context(), callerID(c), req.BookingID, req.Action)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": booking.Status})
}

func (s *HTTPServer) handleCreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "listing_id, start_date and end_date are required")
		return
	}
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		badRequest(c, "invalid start_date; expected YYYY-MM-DD")
		return
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		badRequest(c, "invalid end_date; expected YYYY-MM-DD")
		return
	}

	booking, err := s.market.RequestBooking(c.Request.Context(), service.BookingRequest{
		ListingID: req.ListingID,
		RenterID:  callerID(c),
		StartDate: start,
		EndDate:   end,
		Message:   req.Message,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

func (s *HTTPServer) handleListBookings(c *gin.Context) {
	role := service.ListRole(strings.ToLower(strings.TrimSpace(c.Query("role"))))
	list, err := s.market.Bookings.ListBookings(c.Request.Context(), callerID(c), role)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (s *HTTPServer) handleGetBooking(c *gin.Context) {
	booking, err := s.market.Bookings.GetBooking(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (s *HTTPServer) handleBookingAction(c *gin.Context) {
	if _, err := lifecycle.ParseAction(c.Param("action")); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown booking action", "kind": "not_found"})
		return
	}

	booking, err := s.market.ProcessBooking(c.Request.Context(), callerID(c), c.Param("id"), c.Param("action"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (s *HTTPServer) handleInitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}

	res, err := s.market.InitiatePayment(c.Request.Context(), callerID(c), c.Param("id"), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"client_secret":     res.ClientSecret,
		"payment_intent_id": res.PaymentIntentID,
		"payment":           res.Payment,
	})
}

func (s *HTTPServer) handleListPayments(c *gin.Context) {
	list, err := s.market.Payments.ListPayments(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []*models.Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func (s *HTTPServer) handleSyncPayment(c *gin.Context) {
	payment, err := s.market.Payments.SyncPayment(c.Request.Context(), callerID(c), c.Param("intentId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *HTTPServer) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	payment, err := s.market.Payments.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := gin.H{"received": true}
	if payment != nil {
		resp["status"] = payment.Status
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleAvailability(c *gin.Context) {
	from := models.DateOf(time.Now())
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			badRequest(c, "invalid from; expected YYYY-MM-DD")
			return
		}
		from = d
	}
	to := from.AddDate(0, 0, defaultCalendarDays-1)
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			badRequest(c, "invalid to; expected YYYY-MM-DD")
			return
		}
		to = d
	}

	dates, err := s.market.Bookings.GetAvailability(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}

	blocked := make([]string, 0, len(dates))
	for _, d := range dates {
		blocked = append(blocked, models.FormatDate(d))
	}
	c.JSON(http.StatusOK, gin.H{
		"listing_id":    c.Param("id"),
		"from":          models.FormatDate(from),
		"to":            models.FormatDate(to),
		"blocked_dates": blocked,
	})
}

func (s *HTTPServer) handleListReviews(c *gin.Context) {
	list, err := s.market.Reviews.ListReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": list})
}

func (s *HTTPServer) handleCreateReview(c *gin.Context) {
	var req createReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "booking_id and rating are required")
		return
	}

	review, err := s.market.Reviews.CreateReview(c.Request.Context(), service.ReviewRequest{
		ListingID:  c.Param("id"),
		BookingID:  req.BookingID,
		ReviewerID: callerID(c),
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (s *HTTPServer) handleExport(c *gin.Context) {
	owner := callerID(c)
	bookings, payments, err := s.market.OwnerReport(c.Request.Context(), owner)
	if err != nil {
		s.writeError(c, err)
		return
	}

	fileName := fmt.Sprintf("bookings_%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Type", export.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Status(http.StatusOK)
	if err := export.WriteOwnerReport(c.Writer, bookings, payments); err != nil {
		s.log.Error().Err(err).Str("owner_id", owner).Msg("export failed")
		return
	}
	s.log.Info().Str("owner_id", owner).Int("bookings", len(bookings)).Msg("owner export written")
}
