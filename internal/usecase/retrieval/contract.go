package retrieval

import (
	"context"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// Repository reads catalog items.
type Repository interface {
	ListScope(ctx context.Context, scope domcat.Scope) ([]domcat.Item, error)
	Get(ctx context.Context, id int64) (domcat.Item, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
