// Package server exposes the comparison arena over HTTP: the compare
// and balance endpoints behind principal resolution, guest linking,
// the payment webhook, and the operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ledger"
	"github.com/iliarafa/llmarena/internal/ports"
	"github.com/iliarafa/llmarena/internal/store"
)

// Comparer runs one comparison end to end.
type Comparer interface {
	Compare(ctx context.Context, p domain.Principal, req domain.ComparisonRequest) (*domain.ComparisonOutcome, error)
}

// Config holds the HTTP-facing settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// WebhookSecret verifies payment webhook signatures.
	WebhookSecret string

	// AllowedOrigins configures CORS for browser clients.
	AllowedOrigins []string

	// TopUpTiers lists the purchasable credit amounts. Webhook events
	// carrying any other amount are rejected.
	TopUpTiers []int
}

// Server is the HTTP front of the arena.
type Server struct {
	cfg      Config
	comparer Comparer
	ledger   *ledger.Ledger
	store    store.Store
	metrics  ports.MetricsCollector
	log      *zap.Logger
}

// New assembles the server. metrics may be nil.
func New(cfg Config, comparer Comparer, l *ledger.Ledger, st store.Store, metrics ports.MetricsCollector, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.TopUpTiers) == 0 {
		cfg.TopUpTiers = []int{25, 60, 150}
	}
	return &Server{
		cfg:      cfg,
		comparer: comparer,
		ledger:   l,
		store:    st,
		metrics:  metrics,
		log:      log,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-Guest-Token"},
		ExposedHeaders:   []string{"X-Guest-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/webhooks/payment", s.handlePaymentWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withPrincipal)
		r.Post("/compare", s.handleCompare)
		r.Get("/balance", s.handleBalance)
		r.Post("/account/link", s.handleLink)
	})

	return r
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
