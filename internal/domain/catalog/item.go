// Package catalog holds the event catalog aggregate as seen by the retrieval core.
// Items are created externally; only the backfill path writes their embedding fields.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// MaxTitleLength mirrors the storage column width.
const MaxTitleLength = 200

// Item is a catalog event (immutable value object).
type Item struct {
	id                 int64
	title              string
	description        string
	category           string
	tags               string
	scheduledAt        *time.Time
	embedding          []float32
	embeddingModel     string
	embeddingUpdatedAt *time.Time
}

// New validates and creates an Item without an embedding.
// scheduledAt may be nil for events with no fixed time.
func New(id int64, title, description, category, tags string, scheduledAt *time.Time) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("item ID must be positive, got %d", id)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, fmt.Errorf("item title is required")
	}
	if len([]rune(title)) > MaxTitleLength {
		return Item{}, fmt.Errorf("item title too long (max %d)", MaxTitleLength)
	}
	return Item{
		id:          id,
		title:       title,
		description: description,
		category:    category,
		tags:        tags,
		scheduledAt: cloneTime(scheduledAt),
	}, nil
}

// Reconstruct creates an Item without validation (storage hydration).
func Reconstruct(
	id int64, title, description, category, tags string, scheduledAt *time.Time,
	embedding []float32, embeddingModel string, embeddingUpdatedAt *time.Time,
) Item {
	return Item{
		id:                 id,
		title:              title,
		description:        description,
		category:           category,
		tags:               tags,
		scheduledAt:        scheduledAt,
		embedding:          embedding,
		embeddingModel:     embeddingModel,
		embeddingUpdatedAt: embeddingUpdatedAt,
	}
}

// ID returns the item identifier.
func (i *Item) ID() int64 { return i.id }

// Title returns the item title.
func (i *Item) Title() string { return i.title }

// Description returns the free-text description.
func (i *Item) Description() string { return i.description }

// Category returns the category tag.
func (i *Item) Category() string { return i.category }

// Tags returns the raw comma-delimited tag string.
func (i *Item) Tags() string { return i.tags }

// ScheduledAt returns the scheduled time, or nil when the event has no fixed time.
func (i *Item) ScheduledAt() *time.Time { return cloneTime(i.scheduledAt) }

// Embedding returns the precomputed embedding (nil when not yet indexed).
func (i *Item) Embedding() []float32 { return i.embedding }

// EmbeddingModel returns the identifier of the model that produced the embedding.
func (i *Item) EmbeddingModel() string { return i.embeddingModel }

// EmbeddingUpdatedAt returns when the embedding was last computed.
func (i *Item) EmbeddingUpdatedAt() *time.Time { return cloneTime(i.embeddingUpdatedAt) }

// HasEmbedding reports whether the item carries a non-empty embedding.
func (i *Item) HasEmbedding() bool { return len(i.embedding) > 0 }

// IsStale reports whether the embedding is missing or was produced by another model.
func (i *Item) IsStale(model string) bool {
	return !i.HasEmbedding() || i.embeddingModel != model
}

// ScheduledFrom reports whether the item is scheduled at or after t.
// Items with no fixed time never match a time-restricted scope.
func (i *Item) ScheduledFrom(t time.Time) bool {
	return i.scheduledAt != nil && !i.scheduledAt.Before(t)
}

// TagList splits the tag string on commas, dropping blanks.
func (i *Item) TagList() []string {
	if i.tags == "" {
		return nil
	}
	parts := strings.Split(i.tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EmbeddingText builds the text the embedding is computed from:
// the non-blank trimmed title, description, category and tags joined by " | ".
// Empty when the item has no content.
func (i *Item) EmbeddingText() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{i.title, i.description, i.category, i.tags} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
