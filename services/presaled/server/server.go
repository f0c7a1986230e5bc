package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "tokensale/native/common"
	"tokensale/native/bank"
	"tokensale/native/presale"
	"tokensale/observability"
	"tokensale/services/presaled/journal"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	TLS           TLSConfig
	Auth          AuthConfig
	PurchaseLimit RateLimit
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Runtime bundles the ledger components served over HTTP.
type Runtime struct {
	Engine  *presale.Engine
	Ledger  *bank.Ledger
	Journal *journal.Journal
	Hub     *Hub
	Pauses  *nativecommon.PauseSet
	Metrics *observability.PresaleMetrics
}

// Server hosts the presale API.
type Server struct {
	cfg     Config
	rt      Runtime
	logger  *log.Logger
	auth    *Authenticator
	limiter *RateLimiter
	handler http.Handler
}

// New constructs a new HTTP server.
func New(cfg Config, rt Runtime, logger *log.Logger) (*Server, error) {
	if rt.Engine == nil {
		return nil, fmt.Errorf("presale engine required")
	}
	if rt.Ledger == nil {
		return nil, fmt.Errorf("bank ledger required")
	}
	if logger == nil {
		logger = log.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("configure auth: %w", err)
	}
	srv := &Server{
		cfg:     cfg,
		rt:      rt,
		logger:  logger,
		auth:    auth,
		limiter: NewRateLimiter(cfg.PurchaseLimit),
	}
	srv.handler = srv.routes()
	return srv, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sale", s.handleSale)
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/bank/{asset}/{address}", s.handleBalance)
		r.Get("/events", s.handleEvents)
		r.Get("/events/verify", s.handleVerifyJournal)
		r.Get("/events/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.With(s.limiter.Middleware).Post("/purchases", s.handleBuy)
			r.Post("/redeem", s.handleRedeem)
			r.Post("/refund", s.handleRefund)
			r.Post("/roles/renounce", s.handleRenounce)
			r.Post("/bank/approve", s.handleApprove)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/extend", s.handleExtend)
				r.Post("/payment-methods", s.handleAddPaymentMethod)
				r.Post("/price", s.handleSetPrice)
				r.Post("/sweep", s.handleSweep)
				r.Post("/roles/grant", s.handleGrant)
				r.Post("/roles/revoke", s.handleRevoke)
				r.Post("/bank/mint", s.handleMint)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
			})
		})
	})
	return otelhttp.NewHandler(r, "presaled")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsEnabled := s.cfg.TLS.CertFile != "" && s.cfg.TLS.KeyFile != ""
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("presaled: http server listening on %s", s.cfg.ListenAddress)
	var err error
	if tlsEnabled {
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.ModuleMetrics().Observe("presale", route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket handler take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// fail writes err and records it against operation.
func (s *Server) fail(w http.ResponseWriter, operation string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("presaled: %s: %v", operation, err)
	}
	if s.rt.Metrics != nil && status != http.StatusBadRequest && status != http.StatusUnauthorized {
		s.rt.Metrics.RecordRejection(operation, code)
	}
	writeError(w, err)
}
