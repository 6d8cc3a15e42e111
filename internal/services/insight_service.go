package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"finsight/internal/analytics"
	"finsight/internal/cache"
	"finsight/internal/core"
	"finsight/internal/insight"
	"finsight/internal/ledger"
	"finsight/internal/log"
	"finsight/internal/metrics"
)

// DashboardView is the overview page: analytics plus the month's insights.
type DashboardView struct {
	Overview analytics.Dashboard
	Insight  insight.Result
}

// AnalyticsView backs the analytics page.
type AnalyticsView struct {
	Monthly    []analytics.Totals
	Categories []analytics.CategoryShare
}

// InsightService runs the scorer over a user's ledger. Results are cached per
// user and month until a write invalidates them, and concurrent identical
// requests share one computation.
type InsightService struct {
	repo     ledger.Repository
	cache    cache.Cache[insight.Result]
	group    singleflight.Group
	analyzer insight.Analyzer
	delay    time.Duration
	logger   *slog.Logger

	// generations counts invalidations per user. An analysis only caches its
	// result if no invalidation happened since it started reading.
	genMu       sync.Mutex
	generations map[string]uint64
}

type InsightOption func(*InsightService)

// WithAnalysisDelay adds a pause before results are returned so clients can
// show their "Analyzing" state. It is cut short by context cancellation.
func WithAnalysisDelay(d time.Duration) InsightOption {
	return func(s *InsightService) { s.delay = d }
}

func WithAnalyzer(a insight.Analyzer) InsightOption {
	return func(s *InsightService) { s.analyzer = a }
}

func WithInsightLogger(l *slog.Logger) InsightOption {
	return func(s *InsightService) { s.logger = l.With(log.FieldComponent, log.ComponentInsight) }
}

func NewInsightService(repo ledger.Repository, c cache.Cache[insight.Result], opts ...InsightOption) *InsightService {
	s := &InsightService{
		repo:        repo,
		cache:       c,
		logger:      slog.Default().With(log.FieldComponent, log.ComponentInsight),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(userID string, now time.Time) string {
	return userID + "|" + core.MonthKey(now)
}

// Analyze returns the insight result for userID's month containing now.
func (s *InsightService) Analyze(ctx context.Context, userID string, now time.Time) (insight.Result, error) {
	res, err := s.analyze(ctx, userID, now)
	if err != nil {
		return insight.Result{}, err
	}
	if err := s.stage(ctx); err != nil {
		return insight.Result{}, err
	}
	return res, nil
}

func (s *InsightService) analyze(ctx context.Context, userID string, now time.Time) (insight.Result, error) {
	key := cacheKey(userID, now)
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			metrics.Analyses.WithLabelValues("cache").Inc()
			return res, nil
		}
	}

	// Callers that arrive after a write must not join a flight that read
	// the ledger before it.
	gen := s.generation(userID)
	flight := key + "#" + strconv.FormatUint(gen, 10)

	v, err, _ := s.group.Do(flight, func() (any, error) {
		// Shared by every waiter, so it must outlive any single caller.
		txs, err := s.repo.List(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, ledger.Classify("list", err)
		}
		res := s.analyzer.Analyze(txs, now)
		s.store(userID, gen, key, res)
		metrics.Analyses.WithLabelValues("computed").Inc()
		metrics.Scores.Observe(float64(res.Score))
		s.logger.DebugContext(ctx, "Insights computed",
			log.FieldOperation, log.OpAnalyze,
			"user_id", userID,
			"month", res.Aggregates.Month,
			"score", res.Score,
			"transactions", res.Aggregates.TransactionCount)
		return res, nil
	})
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("list", ErrorKind(err)).Inc()
		return insight.Result{}, fmt.Errorf("analyze: %w", err)
	}
	return v.(insight.Result), nil
}

func (s *InsightService) stage(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dashboard loads the overview and the insights concurrently.
func (s *InsightService) Dashboard(ctx context.Context, userID string, now time.Time) (DashboardView, error) {
	var view DashboardView
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		txs, err := s.repo.List(gctx, userID)
		if err != nil {
			err = ledger.Classify("list", err)
			metrics.RepositoryErrors.WithLabelValues("list", ErrorKind(err)).Inc()
			return fmt.Errorf("dashboard: %w", err)
		}
		view.Overview = analytics.Overview(txs, now)
		return nil
	})
	g.Go(func() error {
		res, err := s.analyze(gctx, userID, now)
		if err != nil {
			return err
		}
		view.Insight = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return DashboardView{}, err
	}
	return view, nil
}

// Analytics returns monthly totals for the last months (including now's)
// and the current month's category breakdown.
func (s *InsightService) Analytics(ctx context.Context, userID string, now time.Time, months int) (AnalyticsView, error) {
	txs, err := s.repo.List(ctx, userID)
	if err != nil {
		err = ledger.Classify("list", err)
		metrics.RepositoryErrors.WithLabelValues("list", ErrorKind(err)).Inc()
		return AnalyticsView{}, fmt.Errorf("analytics: %w", err)
	}
	return AnalyticsView{
		Monthly:    analytics.Monthly(txs, now, months),
		Categories: analytics.CategoryBreakdown(txs, now),
	}, nil
}

func (s *InsightService) generation(userID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[userID]
}

// store caches res unless userID was invalidated after generation gen was read.
func (s *InsightService) store(userID string, gen uint64, key string, res insight.Result) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[userID] != gen {
		s.logger.Debug("Stale analysis not cached", "user_id", userID)
		return
	}
	s.cache.Set(key, res)
}

// Invalidate drops every cached month for userID. Analyses already reading
// the ledger still answer their callers but no longer fill the cache.
func (s *InsightService) Invalidate(userID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[userID]++

	if s.cache == nil {
		return
	}
	if n := s.cache.DeletePrefix(userID + "|"); n > 0 {
		s.logger.Debug("Insight cache invalidated", "user_id", userID, "entries", n)
	}
}
