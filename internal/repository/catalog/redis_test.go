package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

func TestListScope_FiltersAndOrders(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "streamevents:event:*" {
			t.Errorf("unexpected pattern: %q", pattern)
		}
		return []string{
			"streamevents:event:3",
			"streamevents:event:1",
			"streamevents:event:2",
			"streamevents:event:bogus",
			"streamevents:event:4",
		}, nil
	}
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		if len(keys) != 4 {
			t.Fatalf("expected 4 valid keys, got %v", keys)
		}
		out := make([]map[string]string, len(keys))
		for i, k := range keys {
			switch k {
			case "streamevents:event:1":
				out[i] = map[string]string{fieldTitle: "future", fieldScheduledAt: "2026-11-01T20:00:00Z"}
			case "streamevents:event:2":
				out[i] = map[string]string{fieldTitle: "past", fieldScheduledAt: "2026-01-01T20:00:00Z"}
			case "streamevents:event:3":
				out[i] = map[string]string{fieldTitle: "also future", fieldScheduledAt: "2026-12-01T20:00:00Z"}
			case "streamevents:event:4":
				out[i] = map[string]string{} // deleted meanwhile
			}
		}
		return out, nil
	}

	items, err := repo.ListScope(context.Background(), domcat.From(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].ID() != 1 || items[1].ID() != 3 {
		t.Fatalf("unexpected items: %+v", items)
	}

	all, err := repo.ListScope(context.Background(), domcat.All())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items, got %d", len(all))
	}
}

func TestListScope_Empty(t *testing.T) {
	repo, _ := newTestRedisRepo(t)
	items, err := repo.ListScope(context.Background(), domcat.All())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Errorf("expected nil, got %v", items)
	}
}

func TestListScope_ScanError(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	ms.scanFn = func(_ context.Context, _ string) ([]string, error) {
		return nil, &db.Error{Op: db.OpScan, Err: errors.New("connection reset")}
	}
	if _, err := repo.ListScope(context.Background(), domcat.All()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet_RoundTripsEmbedding(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	at := testTime(t, "2026-11-01T20:00:00Z")
	want := testItem(t, 7, "Concert de jazz", at, []float32{0.6, 0.8})

	ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
		if key != "streamevents:event:7" {
			t.Errorf("unexpected key %q", key)
		}
		return buildHashFields(&want), nil
	}

	got, err := repo.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title() != "Concert de jazz" || got.Tags() != "jazz,live" {
		t.Errorf("unexpected item: %+v", got)
	}
	if emb := got.Embedding(); len(emb) != 2 || emb[0] != 0.6 || emb[1] != 0.8 {
		t.Errorf("unexpected embedding: %v", emb)
	}
	if !got.ScheduledAt().Equal(*at) {
		t.Errorf("unexpected schedule: %v", got.ScheduledAt())
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRedisRepo(t)
	_, err := repo.Get(context.Background(), 99)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_WritesAllFields(t *testing.T) {
	repo, ms := newTestRedisRepo(t)

	var got []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		got = items
		return nil
	}

	item := testItem(t, 5, "Teatre", nil, nil)
	if err := repo.Put(context.Background(), []domcat.Item{item}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Key != "streamevents:event:5" {
		t.Fatalf("unexpected batch: %+v", got)
	}
	fields := got[0].Fields
	if fields[fieldTitle] != "Teatre" || fields[fieldScheduledAt] != "" || fields[fieldVector] != "" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestPut_Empty(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	ms.hsetMultiFn = func(_ context.Context, _ []db.HashSetItem) error {
		t.Fatal("store should not be called")
		return nil
	}
	if err := repo.Put(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveEmbedding_OnlyEmbeddingFields(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	var fields map[string]string
	ms.hsetFn = func(_ context.Context, key string, f map[string]string) error {
		if key != "streamevents:event:3" {
			t.Errorf("unexpected key %q", key)
		}
		fields = f
		return nil
	}

	if err := repo.SaveEmbedding(context.Background(), 3, []float32{1, 0}, "minilm", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %v", fields)
	}
	if fields[fieldEmbeddingModel] != "minilm" || fields[fieldEmbeddingUpdatedAt] != "2026-10-16T09:30:00Z" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if vec := bytesToVector(fields[fieldVector]); len(vec) != 2 || vec[0] != 1 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestSaveEmbedding_MissingItem(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	ms.existsFn = func(_ context.Context, key string) (bool, error) {
		if key != "streamevents:event:42" {
			t.Errorf("unexpected key %q", key)
		}
		return false, nil
	}
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		t.Fatal("deleted item must not be recreated")
		return nil
	}

	err := repo.SaveEmbedding(context.Background(), 42, []float32{1, 0}, "minilm", time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveEmbedding_ExistsError(t *testing.T) {
	repo, ms := newTestRedisRepo(t)
	ms.existsFn = func(_ context.Context, _ string) (bool, error) {
		return false, &db.Error{Op: db.OpExists, Err: errors.New("connection reset")}
	}

	err := repo.SaveEmbedding(context.Background(), 3, []float32{1, 0}, "minilm", time.Now())
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestParseItemID(t *testing.T) {
	tests := []struct {
		key string
		id  int64
		ok  bool
	}{
		{"streamevents:event:12", 12, true},
		{"streamevents:event:0", 0, false},
		{"streamevents:event:-3", 0, false},
		{"streamevents:event:abc", 0, false},
		{"streamevents:emb_cache:ff", 0, false},
	}
	for _, tc := range tests {
		id, ok := parseItemID(testPrefix, tc.key)
		if id != tc.id || ok != tc.ok {
			t.Errorf("parseItemID(%q) = %d, %v; want %d, %v", tc.key, id, ok, tc.id, tc.ok)
		}
	}
}

func TestBytesToVector_Malformed(t *testing.T) {
	if v := bytesToVector("abc"); v != nil {
		t.Errorf("expected nil for odd length, got %v", v)
	}
	if v := bytesToVector(""); v != nil {
		t.Errorf("expected nil for empty input, got %v", v)
	}
}
