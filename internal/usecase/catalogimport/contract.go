package catalogimport

import (
	"context"

	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// Writer stores catalog items, replacing existing ones with the same id.
type Writer interface {
	Put(ctx context.Context, items []domcat.Item) error
}
