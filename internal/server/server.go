package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	RateLimit       int // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration

	// Signatures, when set, requires signed mutating requests.
	Signatures *middleware.SignatureConfig
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// History and Devnet are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Market  *handler.MarketHandler
	Admin   *handler.AdminHandler
	History *handler.HistoryHandler
	Devnet  *handler.DevnetHandler
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Metrics *metrics.Metrics
}

// Server is the HTTP + WebSocket API of the market engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up the middleware chain and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers, deps)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Metrics(deps.Metrics)(h)
	if cfg.Signatures != nil {
		h = middleware.Signatures(*cfg.Signatures, logger)(h)
	}
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, hs Handlers, deps Deps) {
	// Health and metrics (no auth required).
	mux.HandleFunc("GET /api/health", hs.Health.HealthCheck)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /api/status", hs.Status.GetStatus)

	// Listings.
	m := hs.Market
	mux.HandleFunc("POST /api/listings", m.CreateListing)
	mux.HandleFunc("GET /api/listings", m.ListListings)
	mux.HandleFunc("POST /api/listings/batch", m.BatchCreateListings)
	mux.HandleFunc("POST /api/listings/batch/cancel", m.BatchCancelListings)
	mux.HandleFunc("PUT /api/listings/batch/prices", m.BatchUpdatePrices)
	mux.HandleFunc("GET /api/listings/{id}", m.GetListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", m.BuyListing)
	mux.HandleFunc("POST /api/listings/{id}/cancel", m.CancelListing)
	mux.HandleFunc("PUT /api/listings/{id}/price", m.UpdateListingPrice)

	// Auctions.
	mux.HandleFunc("POST /api/auctions", m.CreateAuction)
	mux.HandleFunc("GET /api/auctions", m.ListAuctions)
	mux.HandleFunc("GET /api/auctions/ended", m.EndedAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", m.GetAuction)
	mux.HandleFunc("POST /api/auctions/{id}/bid", m.PlaceBid)
	mux.HandleFunc("POST /api/auctions/{id}/finalize", m.FinalizeAuction)
	mux.HandleFunc("POST /api/auctions/{id}/cancel", m.CancelAuction)

	// Offers.
	mux.HandleFunc("POST /api/offers", m.CreateOffer)
	mux.HandleFunc("GET /api/offers", m.ListOffers)
	mux.HandleFunc("GET /api/offers/{id}", m.GetOffer)
	mux.HandleFunc("POST /api/offers/{id}/accept", m.AcceptOffer)
	mux.HandleFunc("POST /api/offers/{id}/cancel", m.CancelOffer)

	// Withdrawals.
	mux.HandleFunc("POST /api/withdrawals", m.Withdraw)
	mux.HandleFunc("GET /api/withdrawals/{account}", m.PendingWithdrawals)

	// Admin.
	a := hs.Admin
	mux.HandleFunc("PUT /api/admin/fee", a.SetFee)
	mux.HandleFunc("PUT /api/admin/fee-recipient", a.SetFeeRecipient)
	mux.HandleFunc("PUT /api/admin/payment-methods", a.SetPaymentMethod)
	mux.HandleFunc("POST /api/admin/pause", a.Pause)
	mux.HandleFunc("POST /api/admin/unpause", a.Unpause)
	mux.HandleFunc("POST /api/admin/archive", a.RunArchive)
	mux.HandleFunc("GET /api/admin/archives", a.ListArchives)

	// Persisted history.
	if h := hs.History; h != nil {
		mux.HandleFunc("GET /api/history/listings", h.ListingsBySeller)
		mux.HandleFunc("GET /api/history/auctions", h.AuctionsBySeller)
		mux.HandleFunc("GET /api/history/offers", h.OffersByOfferer)
		mux.HandleFunc("GET /api/history/withdrawals/{account}", h.Withdrawals)
		mux.HandleFunc("GET /api/audit", h.Audit)
	}

	// Devnet faucet.
	if d := hs.Devnet; d != nil {
		mux.HandleFunc("POST /api/devnet/fund", d.Fund)
		mux.HandleFunc("POST /api/devnet/tokens/mint", d.MintToken)
		mux.HandleFunc("POST /api/devnet/tokens/approve", d.ApproveToken)
		mux.HandleFunc("POST /api/devnet/assets/mint", d.MintAsset)
		mux.HandleFunc("POST /api/devnet/operators", d.SetOperator)
		mux.HandleFunc("POST /api/devnet/royalties", d.SetRoyalty)
		mux.HandleFunc("GET /api/devnet/balances/{account}", d.Balances)
		mux.HandleFunc("GET /api/devnet/owner", d.OwnerOf)
	}

	// WebSocket endpoint.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
