// Package backfill computes and stores embeddings for catalog items.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain/batch"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// DefaultWorkers is the number of items embedded concurrently.
const DefaultWorkers = 4

// Options selects what a run processes.
type Options struct {
	Force   bool // re-embed every item, not only stale ones
	Limit   int  // 0 = no limit
	Workers int  // <= 0 means DefaultWorkers
}

// Report is the outcome of a run.
type Report struct {
	batch.Summary
	Results []batch.Result `json:"-"`
}

// Service runs embedding backfills.
type Service struct {
	repo   Repository
	embed  Embedder
	now    func() time.Time
	logger *zap.Logger
}

// New creates a backfill service.
func New(repo Repository, embed Embedder, l *zap.Logger) *Service {
	return &Service{repo: repo, embed: embed, now: time.Now, logger: l}
}

// Run embeds the selected items. Items are taken in id order; without Force only
// items lacking an embedding from the current model are selected, and Limit applies
// after that selection. Per-item failures are logged and counted, never fatal.
// Run itself fails only when the catalog cannot be listed or ctx is cancelled.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	items, err := s.repo.ListScope(ctx, domcat.All())
	if err != nil {
		return Report{}, fmt.Errorf("list catalog: %w", err)
	}

	model := s.embed.ModelIdentifier()
	selected := items[:0:0]
	for i := range items {
		if opts.Force || items[i].IsStale(model) {
			selected = append(selected, items[i])
		}
		if opts.Limit > 0 && len(selected) == opts.Limit {
			break
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	s.logger.Info("Backfill started",
		zap.Int("candidates", len(selected)),
		zap.String("model", model),
		zap.Bool("force", opts.Force),
		zap.Int("workers", workers),
	)

	results := make([]batch.Result, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range selected {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = s.process(gctx, &selected[i], model)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("backfill interrupted: %w", err)
	}

	rep := Report{Summary: batch.Summarize(results), Results: results}
	s.logger.Info("Backfill finished",
		zap.Int("candidates", rep.Candidates),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

func (s *Service) process(ctx context.Context, item *domcat.Item, model string) batch.Result {
	text := item.EmbeddingText()
	if text == "" {
		return batch.NewSkipped(item.ID())
	}

	res, err := s.embed.Embed(ctx, text)
	if err == nil && res.IsEmpty() {
		err = errors.New("embedder returned an empty vector")
	}
	if err != nil {
		s.logger.Warn("Failed to embed item", zap.Int64("id", item.ID()), zap.Error(err))
		return batch.NewError(item.ID(), fmt.Errorf("embed: %w", err))
	}

	if err := s.repo.SaveEmbedding(ctx, item.ID(), res.Embedding, model, s.now().UTC()); err != nil {
		s.logger.Warn("Failed to save embedding", zap.Int64("id", item.ID()), zap.Error(err))
		return batch.NewError(item.ID(), fmt.Errorf("save embedding: %w", err))
	}
	return batch.NewOK(item.ID())
}
