package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gearshare/internal/config"
	"gearshare/internal/metrics"
	"gearshare/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
)

// Pinger reports storage readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the marketplace over JSON.
type HTTPServer struct {
	cfg     *config.APIConfig
	market  *service.Marketplace
	db      Pinger
	auth    *Authenticator
	limiter *rateLimiter
	engine  *gin.Engine
	server  *http.Server
	log     zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, market *service.Marketplace, db Pinger, nrApp *newrelic.Application, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:     cfg,
		market:  market,
		db:      db,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		log:     log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(log))
	engine.Use(metricsMiddleware())
	if nrApp != nil {
		engine.Use(nrgin.Middleware(nrApp))
	}
	engine.Use(cors.New(corsConfig(cfg.CORS)))
	srv.routes(engine)
	srv.engine = engine

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)

	public := r.Group("/api/v1")
	public.Use(rateLimitMiddleware(s.limiter))
	public.GET("/listings/:id/availability", s.handleAvailability)
	public.GET("/listings/:id/reviews", s.handleListReviews)
	public.POST("/payments/webhook", s.handleWebhook)

	authed := r.Group("/")
	authed.Use(s.auth.Middleware(), rateLimitMiddleware(s.limiter))

	fn := authed.Group("/functions/v1")
	fn.POST("/create-payment-intent", s.handleCreatePaymentIntent)
	fn.POST("/process-booking", s.handleProcessBooking)

	v1 := authed.Group("/api/v1")
	v1.POST("/bookings", s.handleCreateBooking)
	v1.GET("/bookings", s.handleListBookings)
	v1.GET("/bookings/export", s.handleExport)
	v1.GET("/bookings/:id", s.handleGetBooking)
	v1.GET("/bookings/:id/payments", s.handleListPayments)
	v1.POST("/bookings/:id/payments", s.handleInitiatePayment)
	v1.POST("/bookings/:id/:action", s.handleBookingAction)
	v1.POST("/listings/:id/reviews", s.handleCreateReview)
	v1.POST("/payments/:intentId/sync", s.handleSyncPayment)
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(c *gin.Context) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func corsConfig(cfg config.APICORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-Info", "Apikey", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	cc.AllowOrigins = cfg.AllowedOrigins
	if len(cc.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
	}
	return cc
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(c.Writer.Status()))
	}
}
