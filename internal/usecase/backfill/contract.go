package backfill

import (
	"context"
	"time"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// Repository reads the catalog and writes embedding fields.
type Repository interface {
	ListScope(ctx context.Context, scope domcat.Scope) ([]domcat.Item, error)
	SaveEmbedding(ctx context.Context, id int64, vec []float32, model string, at time.Time) error
}

// Embedder vectorizes text and names the model it uses.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	ModelIdentifier() string
}
