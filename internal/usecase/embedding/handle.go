package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
)

// warmupText is embedded once at init to learn the model's dimensionality.
const warmupText = "streamevents"

var errNotReady = errors.New("embedding model not ready")

// Loader builds the embedder chain. It runs at most once per Handle.
type Loader func(ctx context.Context) (domain.Embedder, error)

// Handle is the shared embedding model handle. It is built in main, injected into every
// consumer, and initialized exactly once; concurrent first callers wait for and reuse
// the same outcome, including a failed one.
type Handle struct {
	model  string
	load   Loader
	logger *zap.Logger

	once     sync.Once
	embedder domain.Embedder
	dims     int
	err      error
	ready    atomic.Bool
}

// NewHandle creates an uninitialized handle for the named model.
func NewHandle(model string, load Loader, logger *zap.Logger) *Handle {
	return &Handle{model: model, load: load, logger: logger}
}

// Init loads the model and embeds a warm-up text once. Later calls return the first outcome.
// Failures wrap domain.ErrEmbeddingUnavailable.
func (h *Handle) Init(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.init(ctx)
		if h.err != nil {
			metrics.EmbeddingModelReady.Set(0)
			h.logger.Error("Embedding model unavailable", zap.String("model", h.model), zap.Error(h.err))
			return
		}
		h.ready.Store(true)
		metrics.EmbeddingModelReady.Set(1)
		h.logger.Info("Embedding model ready",
			zap.String("model", h.model),
			zap.Int("dimensions", h.dims),
		)
	})
	return h.err
}

func (h *Handle) init(ctx context.Context) error {
	emb, err := h.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", domain.ErrEmbeddingUnavailable, h.model, err)
	}
	res, err := emb.Embed(ctx, warmupText)
	if err != nil {
		return fmt.Errorf("%w: warm-up %s: %w", domain.ErrEmbeddingUnavailable, h.model, err)
	}
	if res.IsEmpty() || domain.IsZero(res.Embedding) {
		return fmt.Errorf("%w: warm-up %s returned no vector", domain.ErrEmbeddingUnavailable, h.model)
	}
	h.embedder = emb
	h.dims = len(res.Embedding)
	return nil
}

// Embed trims text and encodes it. Blank text returns the empty sentinel without
// touching the model. Encoding errors are returned as is, never retried.
func (h *Handle) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.EmbeddingResult{}, nil
	}
	if err := h.Init(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}

	res, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	if len(res.Embedding) != h.dims {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w: got %d, model has %d",
			domain.ErrVectorDimMismatch, len(res.Embedding), h.dims)
	}
	return res, nil
}

// ModelIdentifier names the model that produces this handle's vectors.
func (h *Handle) ModelIdentifier() string { return h.model }

// Dimensions returns the vector size learned at init, or 0 before a successful init.
func (h *Handle) Dimensions() int {
	if !h.ready.Load() {
		return 0
	}
	return h.dims
}

// Ready reports whether Init succeeded.
func (h *Handle) Ready() bool { return h.ready.Load() }

// HealthCheck reports readiness and, when the provider supports it, provider reachability.
func (h *Handle) HealthCheck(ctx context.Context) error {
	if !h.ready.Load() {
		return errNotReady
	}
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding provider: %w", err)
		}
	}
	return nil
}
