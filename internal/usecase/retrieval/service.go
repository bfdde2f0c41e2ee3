// Package retrieval selects catalog candidates for a free-text query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain/similarity"
	"github.com/ZaineBoulbahaim/Streamevents/internal/logger"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	"github.com/ZaineBoulbahaim/Streamevents/internal/tracing"
)

const (
	// RelevanceFloor is the minimum score (inclusive) a chat candidate must reach.
	RelevanceFloor = 0.25
	// MinOverFetch is the smallest number of ranked results requested before filtering.
	MinOverFetch = 20
	// MaxResults caps what Retrieve returns; the prompt only has room for a few events.
	MaxResults = 3

	// SearchFloor is the minimum score (inclusive) for the search page.
	SearchFloor = 0.30
	// SearchLimit is the number of results the search page shows.
	SearchLimit = 20
)

// Candidate is a catalog item with its similarity to the query.
type Candidate = similarity.Scored[domcat.Item]

// Request is a chat retrieval request.
type Request struct {
	Query      string
	OnlyFuture bool
	K          int // <= 0 means MaxResults
}

// SearchResult is the outcome of a search-page query.
type SearchResult struct {
	Candidates []Candidate
	// Unembedded counts in-scope items that are invisible to search
	// because they have no embedding yet.
	Unembedded int
}

// Service runs semantic retrieval over the catalog.
type Service struct {
	repo   Repository
	embed  Embedder
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for the future scope.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a retrieval service.
func New(repo Repository, embed Embedder, l *zap.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, embed: embed, now: time.Now, logger: l}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Retrieve returns at most min(K, MaxResults) candidates, best first.
// A time-restricted scope that yields nothing above the floor is widened to the whole catalog.
// An empty query vector, or an embedder that is not available, yields no results.
func (s *Service) Retrieve(ctx context.Context, req Request) ([]Candidate, error) {
	ctx, span := tracing.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	limit := MaxResults
	if req.K > 0 && req.K < limit {
		limit = req.K
	}

	query, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(query) == 0 {
		metrics.RetrievalCandidates.WithLabelValues("chat").Observe(0)
		return nil, nil
	}

	fetch := max(req.K, MinOverFetch)
	scope := domcat.All()
	if req.OnlyFuture {
		scope = domcat.From(s.now())
	}

	results, _, err := s.rank(ctx, query, scope, fetch, RelevanceFloor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	fellBack := false
	if len(results) == 0 && scope.IsRestricted() {
		fellBack = true
		metrics.RetrievalFallbackTotal.Inc()
		results, _, err = s.rank(ctx, query, domcat.All(), fetch, RelevanceFloor)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(
		attribute.Bool("retrieval.only_future", req.OnlyFuture),
		attribute.Bool("retrieval.fallback", fellBack),
		attribute.Int("retrieval.results", len(results)),
	)
	metrics.RetrievalCandidates.WithLabelValues("chat").Observe(float64(len(results)))
	logger.FromContext(ctx).Debug("Retrieved candidates",
		zap.Int("results", len(results)),
		zap.Bool("fallback", fellBack),
	)
	return results, nil
}

// Search ranks the catalog for the search page: up to SearchLimit results at or
// above SearchFloor, with no temporal fallback and no chat cap.
func (s *Service) Search(ctx context.Context, query string, onlyFuture bool) (SearchResult, error) {
	ctx, span := tracing.Start(ctx, "retrieval.Search")
	defer span.End()

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return SearchResult{}, err
	}
	if len(vec) == 0 {
		metrics.RetrievalCandidates.WithLabelValues("search").Observe(0)
		return SearchResult{}, nil
	}

	scope := domcat.All()
	if onlyFuture {
		scope = domcat.From(s.now())
	}

	results, unembedded, err := s.rank(ctx, vec, scope, SearchLimit, SearchFloor)
	if err != nil {
		span.RecordError(err)
		return SearchResult{}, err
	}
	if unembedded > 0 {
		s.logger.Info("Items without embedding are hidden from search", zap.Int("count", unembedded))
	}

	metrics.RetrievalCandidates.WithLabelValues("search").Observe(float64(len(results)))
	return SearchResult{Candidates: results, Unembedded: unembedded}, nil
}

// Event returns a single catalog item. A missing id yields ErrNotFound.
func (s *Service) Event(ctx context.Context, id int64) (domcat.Item, error) {
	if id <= 0 {
		return domcat.Item{}, fmt.Errorf("event id must be positive: %w", domain.ErrInvalidInput)
	}
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return domcat.Item{}, fmt.Errorf("load event: %w", err)
	}
	return item, nil
}

// embedQuery returns the query vector. ErrEmbeddingUnavailable is absorbed into an empty vector.
func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := s.embed.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			logger.FromContext(ctx).Warn("Embedding unavailable, returning no candidates", zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	return res.Embedding, nil
}

// rank lists the scope, ranks the embedded items and drops results under floor.
// It also returns the number of in-scope items that carry no embedding.
func (s *Service) rank(
	ctx context.Context, query []float32, scope domcat.Scope, k int, floor float64,
) ([]Candidate, int, error) {
	items, err := s.repo.ListScope(ctx, scope)
	if err != nil {
		return nil, 0, fmt.Errorf("list catalog: %w", err)
	}

	cands := make([]similarity.Candidate[domcat.Item], 0, len(items))
	unembedded := 0
	for i := range items {
		if !items[i].HasEmbedding() {
			unembedded++
			continue
		}
		cands = append(cands, similarity.Candidate[domcat.Item]{Item: items[i], Vector: items[i].Embedding()})
	}

	ranked := similarity.TopK(query, cands, k)
	kept := ranked[:0]
	for _, r := range ranked {
		if r.Score >= floor {
			kept = append(kept, r)
		}
	}
	return kept, unembedded, nil
}
