// Package http serves the finsight JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"finsight/internal/core"
	"finsight/internal/insight"
	"finsight/internal/ledger"
	"finsight/internal/log"
	"finsight/internal/metrics"
	"finsight/internal/middleware/ratelimit"
	"finsight/internal/middleware/security"
	"finsight/internal/middleware/trace"
	"finsight/internal/services"
	"finsight/internal/session"
)

// TransactionAPI is the subset of services.TransactionService the handlers use.
type TransactionAPI interface {
	List(ctx context.Context, userID string) ([]core.Transaction, error)
	Get(ctx context.Context, userID, id string) (core.Transaction, error)
	Create(ctx context.Context, userID string, d core.Draft) (core.Transaction, error)
	Update(ctx context.Context, userID, id string, d core.Draft) (core.Transaction, error)
	Delete(ctx context.Context, userID, id string) error
}

// InsightAPI is the subset of services.InsightService the handlers use.
type InsightAPI interface {
	Analyze(ctx context.Context, userID string, now time.Time) (insight.Result, error)
	Dashboard(ctx context.Context, userID string, now time.Time) (services.DashboardView, error)
	Analytics(ctx context.Context, userID string, now time.Time, months int) (services.AnalyticsView, error)
}

// Deps are the collaborators of the server. Pinger is optional.
type Deps struct {
	Transactions   TransactionAPI
	Insights       InsightAPI
	Sessions       session.Resolver
	Pinger         ledger.Pinger
	Logger         *log.Logger
	RateLimitRPM   int
	MetricsEnabled bool
	Now            func() time.Time
}

type Server struct {
	http.Server
	txs      TransactionAPI
	insights InsightAPI
	pinger   ledger.Pinger
	logger   *log.Logger
	now      func() time.Time
	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// utcNow keeps month bucketing aligned with stored timestamps, which are UTC.
func utcNow() time.Time { return time.Now().UTC() }

// NewServer wires routes and middleware and returns a ready-to-run server.
func NewServer(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = log.New(log.DefaultConfig())
	}
	if d.Now == nil {
		d.Now = utcNow
	}
	if d.Sessions == nil {
		d.Sessions = session.HeaderResolver{}
	}

	s := &Server{
		txs:      d.Transactions,
		insights: d.Insights,
		pinger:   d.Pinger,
		logger:   d.Logger.WithComponent(log.ComponentHTTP),
		now:      d.Now,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: d.RateLimitRPM}),
		detector: security.NewDetector(),
	}

	r := chi.NewRouter()
	r.Use(trace.NewMiddleware(d.Logger, s.detector.ExtractClientIP).Middleware)
	r.Use(chimw.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware(s.onSuspicious))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if d.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(session.Middleware(d.Sessions, s.onReject))
		r.Use(s.limiter.Middleware(s.rateLimitKey, s.onRateLimited,
			http.MethodPost, http.MethodPut, http.MethodDelete))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleCreateTransaction)
			r.Get("/{id}", s.handleGetTransaction)
			r.Put("/{id}", s.handleUpdateTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})
		r.Get("/insights", s.handleInsights)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/analytics", s.handleAnalytics)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background work and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) rateLimitKey(r *http.Request) string {
	if sess, ok := session.FromContext(r.Context()); ok {
		return "user:" + sess.UserID
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

func (s *Server) onReject(r *http.Request, err error) {
	log.FromContext(r.Context()).WithComponent(log.ComponentSession).
		WarnContext(r.Context(), "Unauthenticated request", log.FieldPath, r.URL.Path, log.FieldError, err)
}

func (s *Server) onSuspicious(r *http.Request, rule string) {
	log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).
		WarnContext(r.Context(), "Suspicious request",
			"rule", rule,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, s.detector.ExtractClientIP(r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": ledger.UserMessage(ledger.Classify("ping", err))})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
