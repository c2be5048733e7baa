// Package server exposes the energy-loss engine over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/timzifer/eloss/internal/engine"
)

// Options tune the HTTP front end.
type Options struct {
	// RateLimit is the sustained number of requests per second and client.
	RateLimit float64
	// Burst is the bucket size per client.
	Burst int
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// MaxScanPoints bounds POST /api/scan. Defaults to 1000.
	MaxScanPoints int
}

// Server routes API requests to the current engine. The engine may be
// replaced at any time with Swap; in-flight requests keep the engine they
// started with.
type Server struct {
	engine    atomic.Pointer[engine.Engine]
	logger    zerolog.Logger
	router    *mux.Router
	limiter   *ipRateLimiter
	maxPoints int
}

// New builds the router around eng.
func New(eng *engine.Engine, logger zerolog.Logger, opts Options) (*Server, error) {
	if eng == nil {
		return nil, errors.New("server: engine must not be nil")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxScanPoints <= 0 {
		opts.MaxScanPoints = 1000
	}

	s := &Server{
		logger:    logger,
		router:    mux.NewRouter(),
		limiter:   newIPRateLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		maxPoints: opts.MaxScanPoints,
	}
	s.engine.Store(eng)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.api("/api/tables", s.handleTables, http.MethodGet)
	s.api("/api/eloss", s.handleEnergyLoss, http.MethodGet)
	s.api("/api/chain", s.handleChain, http.MethodPost)
	s.api("/api/scan", s.handleScan, http.MethodPost)
	return s, nil
}

// api registers a rate limited route on the root router so that method
// mismatches are answered with 405.
func (s *Server) api(path string, fn http.HandlerFunc, method string) {
	s.router.Handle(path, s.limiter.middleware(fn)).Methods(method)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine returns the engine currently serving requests.
func (s *Server) Engine() *engine.Engine {
	return s.engine.Load()
}

// Swap installs a new engine and returns the previous one.
func (s *Server) Swap(eng *engine.Engine) *engine.Engine {
	if eng == nil {
		return s.engine.Load()
	}
	return s.engine.Swap(eng)
}

// ListenAndServe serves on listen until ctx is done, then shuts down
// gracefully within timeout.
func (s *Server) ListenAndServe(ctx context.Context, listen string, timeout time.Duration) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, timeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("api server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}

type ipRateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		ips:   make(map[string]*rate.Limiter),
		limit: limit,
		burst: burst,
	}
}

func (i *ipRateLimiter) get(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	limiter, ok := i.ips[ip]
	if !ok {
		limiter = rate.NewLimiter(i.limit, i.burst)
		i.ips[ip] = limiter
	}
	return limiter
}

func (i *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !i.get(host).Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
