// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// SaleStatusService reports the sale status
type SaleStatusService interface {
	Status(ctx context.Context, now time.Time) (*models.SaleStatus, error)
	Phase(ctx context.Context, ordinal int) (*models.Phase, error)
}

// PurchaseService records purchase events and lists a holder's purchases
type PurchaseService interface {
	ApplyPurchase(ctx context.Context, event service.PurchaseEvent) (*service.PurchaseResult, error)
	Purchases(ctx context.Context, holder string) ([]*models.PurchaseRecord, error)
}

// DividendService answers dividend queries
type DividendService interface {
	Info(ctx context.Context, holder string, now time.Time) (*models.DividendInfo, error)
	Project(ctx context.Context, holder string, monthlyProfit decimal.Decimal) (models.Projection, error)
}

// ClaimService records dividend claims
type ClaimService interface {
	Claim(ctx context.Context, holder string, now time.Time) (*models.DividendClaim, error)
	Claims(ctx context.Context, holder string) ([]*models.DividendClaim, error)
}

// DistributionRunner credits a cycle's profit to holders
type DistributionRunner interface {
	Distribute(ctx context.Context, cycle string, profit decimal.Decimal, now time.Time) (*models.Distribution, error)
}

// Services groups the services the API exposes
type Services struct {
	Status       SaleStatusService
	Purchases    PurchaseService
	Dividends    DividendService
	Claims       ClaimService
	Distribution DistributionRunner
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	now        func() time.Time
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AnonymousRPS    int // Requests per second for callers without a holder address
	HolderRPS       int // Requests per second for callers identifying as a holder
	Burst           int
	OperatorKey     string // Enables operator routes when set
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		now:      time.Now,
		logger:   logging.GetGlobalLogger().WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.AnonymousRPS, s.config.HolderRPS, s.config.Burst)

	// Order matters: recovery must see panics from everything after it
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Sale endpoints
	api.HandleFunc("/ico/status", s.handleSaleStatus).Methods("GET")
	api.HandleFunc("/ico/phases/{ordinal}", s.handlePhase).Methods("GET")
	api.HandleFunc("/ico/purchases", s.handleRecordPurchase).Methods("POST")
	api.HandleFunc("/ico/purchases/{address}", s.handlePurchaseHistory).Methods("GET")

	// Dividend endpoints
	api.HandleFunc("/dividends/claim", s.handleClaimDividends).Methods("POST")
	api.HandleFunc("/dividends/{address}", s.handleDividendInfo).Methods("GET")
	api.HandleFunc("/dividends/{address}/projection", s.handleProjection).Methods("GET")
	api.HandleFunc("/dividends/{address}/claims", s.handleClaimHistory).Methods("GET")

	// Operator endpoints exist only when an operator key is configured
	if s.config.OperatorKey == "" {
		s.logger.Info("No operator key configured; distribution endpoint disabled")
		return
	}
	operatorOnly := OperatorAuthMiddleware(s.config.OperatorKey)
	api.Handle("/dividends/distributions", operatorOnly(http.HandlerFunc(s.handleDistribute))).Methods("POST")
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cfd-ledger",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
