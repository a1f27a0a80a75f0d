// Package server exposes the loyalty core over HTTP: terminal presentations,
// benefit eligibility and redemption, the external asset-state feed, and the
// admin hooks for the cancellation-penalty and inactivity-decay collaborators.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"perkledger/auth"
	"perkledger/benefit"
	"perkledger/calendar"
	"perkledger/catalog"
	"perkledger/ledger"
	"perkledger/middleware"
	"perkledger/observability/metrics"
	"perkledger/otp"
	"perkledger/tier"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB       *gorm.DB
	Clock    *calendar.Clock
	Proofer  *otp.Proofer
	Verifier *auth.Verifier
	Logger   *slog.Logger

	// Multiplier is the weighted-order visit-equivalent factor.
	Multiplier int
	// RevokeCount is the default entry count for the penalty hook.
	RevokeCount int
	// DecayIdle is the inactivity threshold for the decay hook.
	DecayIdle time.Duration

	PresentationLimit middleware.RateLimit
}

// Server encapsulates the HTTP API and its collaborating engines.
type Server struct {
	db       *gorm.DB
	clock    *calendar.Clock
	catalog  *catalog.Store
	ledger   *ledger.Store
	eval     *tier.Evaluator
	resolver *benefit.Resolver
	proofer  *otp.Proofer
	verifier *auth.Verifier
	logger   *slog.Logger
	metrics  *metrics.LoyaltyMetrics

	revokeCount int
	decayIdle   time.Duration
	rateLimit   middleware.RateLimit

	router http.Handler
}

// New constructs a configured HTTP router with authentication, idempotency
// and rate-limit support.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Proofer == nil {
		cfg.Proofer = otp.New(otp.DefaultStep, otp.DefaultSkew)
	}
	if cfg.RevokeCount <= 0 {
		cfg.RevokeCount = 2
	}
	if cfg.DecayIdle <= 0 {
		cfg.DecayIdle = 90 * 24 * time.Hour
	}

	catalogStore := catalog.NewStore(cfg.DB)
	ledgerStore := ledger.NewStore(cfg.DB, cfg.Clock)

	srv := &Server{
		db:          cfg.DB,
		clock:       cfg.Clock,
		catalog:     catalogStore,
		ledger:      ledgerStore,
		eval:        tier.NewEvaluator(catalogStore, ledgerStore, cfg.Clock, cfg.Multiplier),
		resolver:    benefit.NewResolver(catalogStore, ledgerStore, cfg.Clock),
		proofer:     cfg.Proofer,
		verifier:    cfg.Verifier,
		logger:      cfg.Logger,
		metrics:     metrics.Loyalty(),
		revokeCount: cfg.RevokeCount,
		decayIdle:   cfg.DecayIdle,
		rateLimit:   cfg.PresentationLimit,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewRateLimiter(s.rateLimit, s.logger)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.verifier.Authenticate)
		api.Use(func(next http.Handler) http.Handler { return middleware.WithIdempotency(s.db, next) })

		api.Group(func(pos chi.Router) {
			pos.Use(auth.RequireRole(auth.RoleTerminal, auth.RoleAdmin))
			pos.With(limiter.Middleware).Post("/presentations", s.RecordPresentation)
			pos.Get("/customers/{id}/benefits", s.GetEligibleBenefits)
			pos.Post("/customers/{id}/redemptions", s.RedeemBenefit)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRole(auth.RoleAdmin))
			admin.Post("/customers", s.CreateCustomer)
			admin.Get("/customers/{id}/code", s.GetCurrentCode)
			admin.Post("/assets/state", s.SyncAssetState)
			admin.Post("/customers/{id}/revocations", s.RevokeEntries)
			admin.Post("/customers/{id}/tier-decay", s.DecayTier)
		})
	})
	return r
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits a deliberately terse body. Not-found responses never
// distinguish "unknown code" from "known secret, expired code".
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
