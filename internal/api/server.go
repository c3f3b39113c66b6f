package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. repo, cache and bus may be nil;
// the endpoints that need them answer 503.
func NewServer(cfg domain.ServerConfig, svc *analytics.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", DatasetHeader, RequestIDHeader, TraceIDHeader, "Authorization"},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}
		r.Use(DatasetMiddleware)

		// Customers
		r.Post("/rfm", handler.RFM)
		r.Post("/segments", handler.Segments)
		r.Get("/customers/{id}", handler.GetCustomer)

		// Market basket
		r.Get("/products", handler.SearchProducts)
		r.Post("/basket/rules", handler.MineRules)
		r.Post("/basket/recommendations", handler.Recommend)
		r.Get("/basket/bundles", handler.TopBundles)

		// Returns risk
		r.Post("/risk/score", handler.ScoreRisk)
		r.Get("/risk/distribution", handler.RiskDistribution)
		r.Post("/policy/simulate", handler.SimulatePolicy)
		r.Post("/policy/optimize", handler.OptimizePolicy)

		// Ledger and asynchronous analyses
		r.Post("/ledger/refresh", handler.RefreshLedger)
		r.Post("/analyses", handler.SubmitAnalysis)
		r.Get("/analyses/{id}", handler.GetAnalysis)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
