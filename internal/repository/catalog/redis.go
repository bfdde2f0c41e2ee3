// Package catalog stores catalog items and their embeddings.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// hashStore is the consumer interface for the hash-backed catalog (ISP).
type hashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// RedisRepo keeps one hash per item at {prefix}event:{id}.
type RedisRepo struct {
	store  hashStore
	prefix string
}

// NewRedis creates a hash-backed catalog repository.
func NewRedis(s hashStore, keyPrefix string) *RedisRepo {
	return &RedisRepo{store: s, prefix: keyPrefix}
}

// ListScope returns every item inside scope, ordered by id.
// Scope filtering happens client-side: hashes carry no secondary index.
func (r *RedisRepo) ListScope(ctx context.Context, scope domcat.Scope) ([]domcat.Item, error) {
	keys, err := r.store.Scan(ctx, keyPattern(r.prefix))
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}

	ids := make([]int64, 0, len(keys))
	valid := make([]string, 0, len(keys))
	for _, key := range keys {
		id, ok := parseItemID(r.prefix, key)
		if !ok {
			continue
		}
		ids = append(ids, id)
		valid = append(valid, key)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	hashes, err := r.store.HGetAllMulti(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	items := make([]domcat.Item, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue // deleted between SCAN and HGETALL
		}
		item := parseHashFields(ids[i], m)
		if scope.Contains(&item) {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID() < items[j].ID() })
	return items, nil
}

// Get returns a single item.
func (r *RedisRepo) Get(ctx context.Context, id int64) (domcat.Item, error) {
	m, err := r.store.HGetAll(ctx, itemKey(r.prefix, id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domcat.Item{}, fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
		}
		return domcat.Item{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return parseHashFields(id, m), nil
}

// Put writes items in one pipelined round-trip, replacing any existing fields.
func (r *RedisRepo) Put(ctx context.Context, items []domcat.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := make([]db.HashSetItem, len(items))
	for i := range items {
		batch[i] = db.HashSetItem{
			Key:    itemKey(r.prefix, items[i].ID()),
			Fields: buildHashFields(&items[i]),
		}
	}
	if err := r.store.HSetMulti(ctx, batch); err != nil {
		return fmt.Errorf("put %d events: %w", len(items), err)
	}
	return nil
}

// SaveEmbedding updates only the embedding fields of an existing item.
// A missing item yields ErrNotFound instead of a hash holding only a vector.
func (r *RedisRepo) SaveEmbedding(ctx context.Context, id int64, vec []float32, model string, at time.Time) error {
	key := itemKey(r.prefix, id)
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("save embedding for event %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
	}
	if err := r.store.HSet(ctx, key, buildEmbeddingFields(vec, model, at)); err != nil {
		return fmt.Errorf("save embedding for event %d: %w", id, err)
	}
	return nil
}
