package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "defiledger/native/common"
	"defiledger/services/lendingd/oracle"
	"defiledger/services/lendingd/orchestrator"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	TLS           TLSConfig
	RateLimit     RateLimit
}

// TLSConfig describes TLS settings for the listener. An empty CertFile serves
// plaintext.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Ledger *orchestrator.Orchestrator
	Prices *oracle.PriceBook
	Pauses *nativecommon.PauseSet
	Health Pinger
}

// Server hosts the public ledger API, the operator API and health endpoints.
type Server struct {
	cfg     Config
	ledger  *orchestrator.Orchestrator
	prices  *oracle.PriceBook
	pauses  *nativecommon.PauseSet
	health  Pinger
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	handler http.Handler
}

// New constructs the HTTP server.
func New(cfg Config, deps Deps, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("price book required")
	}
	if auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pauses == nil {
		deps.Pauses = nativecommon.NewPauseSet()
	}
	s := &Server{
		cfg:     cfg,
		ledger:  deps.Ledger,
		prices:  deps.Prices,
		pauses:  deps.Pauses,
		health:  deps.Health,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.handler = otelhttp.NewHandler(s.routes(), "lendingd.http")
	return s, nil
}

// Handler exposes the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/markets", s.listMarkets)
		api.Get("/markets/{symbol}", s.getMarket)
		api.Post("/markets/{symbol}/supply", s.supply)
		api.Post("/markets/{symbol}/withdraw", s.withdraw)
		api.Post("/markets/{symbol}/borrow", s.borrow)

		api.Get("/positions/{id}", s.getPosition)
		api.Post("/positions/{id}/repay", s.repay)
		api.Post("/positions/{id}/collateral", s.adjustCollateral)
		api.Post("/positions/{id}/liquidate", s.liquidate)
		api.Get("/accounts/{owner}/positions", s.accountPositions)

		api.Get("/pools", s.listPools)
		api.Get("/pools/{id}", s.getPool)
		api.Post("/pools/{id}/quote", s.quoteLiquidity)
		api.Post("/pools/{id}/add", s.addLiquidity)
		api.Post("/pools/{id}/remove", s.removeLiquidity)
		api.Get("/pools/{id}/positions/{owner}", s.liquidityPosition)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.auth.Middleware)

		admin.Post("/markets", s.listMarket)
		admin.Put("/markets/{symbol}/active", s.setMarketActive)
		admin.Post("/pools", s.deployPool)
		admin.Get("/prices", s.listPrices)
		admin.Put("/prices/{symbol}", s.setPrice)
		admin.Get("/pauses", s.listPauses)
		admin.Put("/pauses/*", s.setPause)
		admin.Get("/journal", s.journal)
	})
	return r
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Handler:           s.handler,
		TLSConfig:         s.cfg.TLS.Config,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	tlsEnabled := strings.TrimSpace(s.cfg.TLS.CertFile) != ""
	s.logger.Info("http server listening", "addr", ln.Addr().String(), "tls", tlsEnabled)
	var err error
	if tlsEnabled {
		err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
