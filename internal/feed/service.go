// Package feed builds the bento feed for one viewer: it reads the catalog,
// asks the recommender for personalization, ranks, composes the grid and
// caches the result per catalog version.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/bentofeed/internal/bento"
	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
	"github.com/onnwee/bentofeed/internal/recommend"
	"github.com/onnwee/bentofeed/internal/tracing"
)

// DefaultCacheTTL bounds how long a composed feed is served from cache.
const DefaultCacheTTL = 60 * time.Second

// Request selects whose feed to build.
type Request struct {
	// ViewerID is empty for anonymous viewers.
	ViewerID string

	// SimulateNoHistory forces the cold path even for a known viewer.
	SimulateNoHistory bool
}

// Feed is a ranked and composed feed.
type Feed struct {
	Items          []ranking.RankedItem `json:"items"`
	Layout         bento.Layout         `json:"layout"`
	Meta           ranking.Meta         `json:"meta"`
	CatalogVersion int64                `json:"catalog_version"`

	// Degraded is set when personalization was wanted but the recommender
	// failed, so the feed fell back to the cold order.
	Degraded bool `json:"degraded"`
}

// Service builds feeds. It is safe for concurrent use.
type Service struct {
	catalog     post.Catalog
	history     recommend.HistoryProvider
	scorer      recommend.Scorer
	cache       Cache
	cacheTTL    time.Duration
	weights     *ranking.Weights
	rankMetrics *ranking.Metrics
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecommender enables personalization. history may be nil, in which case
// the scorer is called with an empty history.
func WithRecommender(history recommend.HistoryProvider, scorer recommend.Scorer) Option {
	return func(s *Service) {
		s.history = history
		s.scorer = scorer
	}
}

// WithCache enables result caching. A non-positive ttl uses DefaultCacheTTL.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithWeights sets calibrated ranking weights.
func WithWeights(w *ranking.Weights) Option {
	return func(s *Service) { s.weights = w }
}

// WithMetrics records feed and ranking metrics. Either may be nil.
func WithMetrics(m *Metrics, rm *ranking.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
		s.rankMetrics = rm
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the evaluation instant used for recency.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a feed service over catalog.
func NewService(catalog post.Catalog, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// viewerKey returns "" when the request takes the cold path.
func (r Request) viewerKey() string {
	if r.SimulateNoHistory {
		return ""
	}
	return r.ViewerID
}

// Build returns the feed for req. Invalid catalogs surface as
// ranking.ErrInvalidInput. Recommender failures never fail the build.
//
// Every request that ends on the cold path shares the anonymous cache entry,
// so only personalized feeds are cached per viewer.
func (s *Service) Build(ctx context.Context, req Request) (f *Feed, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.build",
		attribute.Bool("feed.anonymous", req.ViewerID == ""),
		attribute.Bool("feed.simulate_no_history", req.SimulateNoHistory),
	)
	defer func() { endSpan(err) }()

	version, err := s.catalog.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog version: %w", err)
	}

	viewer := req.viewerKey()
	if s.scorer == nil {
		viewer = ""
	}
	key := CacheKey(version, viewer)
	if cached := s.lookup(ctx, key); cached != nil {
		tracing.AddEvent(ctx, "feed.cache_hit")
		return cached, nil
	}

	var (
		history  []recommend.WatchEvent
		degraded bool
	)
	if viewer != "" {
		var cold bool
		history, cold, degraded = s.loadHistory(ctx, viewer)
		if cold || degraded {
			viewer = ""
			key = CacheKey(version, "")
			if cached := s.lookup(ctx, key); cached != nil {
				tracing.AddEvent(ctx, "feed.cache_hit")
				if degraded {
					out := *cached
					out.Degraded = true
					return &out, nil
				}
				return cached, nil
			}
		}
	}

	start := time.Now()
	posts, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}

	var scores map[string]float64
	if viewer != "" && len(posts) > 0 {
		scores, degraded = s.score(ctx, viewer, posts, history)
	}

	rankStart := time.Now()
	result, err := ranking.Rank(posts, scores, ranking.Options{Now: s.now(), Weights: s.weights})
	if err != nil {
		if s.rankMetrics != nil {
			s.rankMetrics.IncInvalidBatch()
		}
		return nil, err
	}
	if s.rankMetrics != nil {
		s.rankMetrics.ObserveRank(time.Since(rankStart), result.Meta)
	}

	layout, err := bento.Compose(result.Items, posts)
	if err != nil {
		return nil, fmt.Errorf("failed to compose layout: %w", err)
	}

	f = &Feed{
		Items:          result.Items,
		Layout:         *layout,
		Meta:           result.Meta,
		CatalogVersion: version,
		Degraded:       degraded,
	}

	switch {
	case degraded:
		s.metrics.incBuild(PathDegraded)
	case result.Meta.HasPersonalization:
		s.metrics.incBuild(PathPersonalized)
	default:
		s.metrics.incBuild(PathCold)
	}
	s.metrics.observeBuild(time.Since(start).Seconds())
	tracing.SetAttributes(ctx,
		attribute.Int("feed.posts", result.Meta.TotalPosts),
		attribute.Bool("feed.personalized", result.Meta.HasPersonalization),
		attribute.Bool("feed.degraded", degraded),
	)

	switch {
	case degraded:
		// Not cached, so a recovered recommender is picked up on the next
		// request.
	case result.Meta.HasPersonalization:
		s.store(ctx, key, f)
	default:
		s.store(ctx, CacheKey(version, ""), f)
	}
	return f, nil
}

// loadHistory fetches the viewer's watch history. cold is set when the
// history is empty and degraded when the provider failed. Without a history
// provider the scorer is called with an empty history.
func (s *Service) loadHistory(ctx context.Context, viewer string) (history []recommend.WatchEvent, cold, degraded bool) {
	if s.history == nil {
		return nil, false, false
	}
	h, err := s.history.History(ctx, viewer)
	if err != nil {
		s.degrade(ctx, "history", err)
		return nil, false, true
	}
	if len(h) == 0 {
		return nil, true, false
	}
	return h, false, false
}

// score asks the recommender for per-post scores. It reports degraded when
// the call failed.
func (s *Service) score(ctx context.Context, viewer string, posts []post.Post, history []recommend.WatchEvent) (map[string]float64, bool) {
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}
	scores, err := s.scorer.Score(ctx, viewer, ids, history)
	if err != nil {
		s.degrade(ctx, "score", err)
		return nil, true
	}
	return scores, false
}

func (s *Service) degrade(ctx context.Context, stage string, err error) {
	s.metrics.incScorerFailure()
	tracing.AddEvent(ctx, "feed.degraded", attribute.String("stage", stage))
	s.logger.WarnContext(ctx, "recommender failed, serving cold feed",
		"stage", stage,
		"error", err)
}

func (s *Service) lookup(ctx context.Context, key string) *Feed {
	if s.cache == nil {
		return nil
	}
	f, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.incCache(CacheError)
		s.logger.WarnContext(ctx, "feed cache read failed", "key", key, "error", err)
		return nil
	case !ok:
		s.metrics.incCache(CacheMiss)
		return nil
	default:
		s.metrics.incCache(CacheHit)
		return f
	}
}

func (s *Service) store(ctx context.Context, key string, f *Feed) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, f, s.cacheTTL); err != nil {
		s.metrics.incCache(CacheError)
		s.logger.WarnContext(ctx, "feed cache write failed", "key", key, "error", err)
	}
}
