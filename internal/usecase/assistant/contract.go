package assistant

import (
	"context"

	"github.com/ZaineBoulbahaim/Streamevents/internal/usecase/retrieval"
)

// Retriever selects candidates for a query.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Candidate, error)
}
