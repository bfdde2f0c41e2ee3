package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain/batch"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// --- Mocks ---

type savedEmbedding struct {
	vec   []float32
	model string
	at    time.Time
}

type mockRepo struct {
	items   []domcat.Item
	listErr error
	saveErr map[int64]error

	mu    sync.Mutex
	saved map[int64]savedEmbedding
}

func (m *mockRepo) ListScope(_ context.Context, _ domcat.Scope) ([]domcat.Item, error) {
	return m.items, m.listErr
}

func (m *mockRepo) SaveEmbedding(_ context.Context, id int64, vec []float32, model string, at time.Time) error {
	if err := m.saveErr[id]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[int64]savedEmbedding)
	}
	m.saved[id] = savedEmbedding{vec: vec, model: model, at: at}
	return nil
}

type mockEmbedder struct {
	failOn string

	mu    sync.Mutex
	texts []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if text == m.failOn {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0}}, nil
}

func (m *mockEmbedder) ModelIdentifier() string { return "minilm" }

func item(id int64, title, model string, vec []float32) domcat.Item {
	return domcat.Reconstruct(id, title, "", "", "", nil, vec, model, nil)
}

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func newTestService(repo *mockRepo, emb *mockEmbedder) *Service {
	s := New(repo, emb, zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}

// --- Tests ---

func TestRun_EmbedsStaleItemsOnly(t *testing.T) {
	repo := &mockRepo{items: []domcat.Item{
		item(1, "Jazz", "", nil),
		item(2, "Fresh", "minilm", []float32{1, 0}),
		item(3, "Old model", "bge-small", []float32{0, 1}),
	}}
	emb := &mockEmbedder{}
	rep, err := newTestService(repo, emb).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := batch.Summary{Candidates: 2, Succeeded: 2}
	if rep.Summary != want {
		t.Errorf("expected %+v, got %+v", want, rep.Summary)
	}
	if _, ok := repo.saved[2]; ok {
		t.Error("fresh item must not be re-embedded")
	}
	got := repo.saved[1]
	if got.model != "minilm" || !got.at.Equal(fixedNow) || len(got.vec) != 2 {
		t.Errorf("unexpected saved embedding: %+v", got)
	}
}

func TestRun_ForceEmbedsEverything(t *testing.T) {
	repo := &mockRepo{items: []domcat.Item{
		item(1, "a", "minilm", []float32{1, 0}),
		item(2, "b", "minilm", []float32{1, 0}),
	}}
	rep, err := newTestService(repo, &mockEmbedder{}).Run(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %+v", rep.Summary)
	}
}

func TestRun_LimitAppliesAfterSelection(t *testing.T) {
	repo := &mockRepo{items: []domcat.Item{
		item(1, "fresh", "minilm", []float32{1, 0}),
		item(2, "a", "", nil),
		item(3, "b", "", nil),
		item(4, "c", "", nil),
	}}
	rep, err := newTestService(repo, &mockEmbedder{}).Run(context.Background(), Options{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Candidates != 2 {
		t.Fatalf("expected 2 candidates, got %+v", rep.Summary)
	}
	if _, ok := repo.saved[2]; !ok {
		t.Error("expected item 2 processed")
	}
	if _, ok := repo.saved[3]; !ok {
		t.Error("expected item 3 processed")
	}
	if _, ok := repo.saved[4]; ok {
		t.Error("item 4 is past the limit")
	}
}

func TestRun_SkipsEmptyTextAndContinuesPastFailures(t *testing.T) {
	repo := &mockRepo{
		items: []domcat.Item{
			item(1, "   ", "", nil),
			item(2, "boom", "", nil),
			item(3, "ok", "", nil),
			item(4, "unsaved", "", nil),
		},
		saveErr: map[int64]error{4: errors.New("connection reset")},
	}
	emb := &mockEmbedder{failOn: "boom"}
	rep, err := newTestService(repo, emb).Run(context.Background(), Options{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := batch.Summary{Candidates: 4, Succeeded: 1, Skipped: 1, Failed: 2}
	if rep.Summary != want {
		t.Errorf("expected %+v, got %+v", want, rep.Summary)
	}
	for _, txt := range emb.texts {
		if txt == "" {
			t.Error("empty text must not reach the embedder")
		}
	}
	if rep.Results[1].Status() != batch.StatusError || !errors.Is(rep.Results[1].Err(), domain.ErrEmbeddingProviderError) {
		t.Errorf("unexpected result for item 2: %v %v", rep.Results[1].Status(), rep.Results[1].Err())
	}
}

func TestRun_UsesEmbeddingText(t *testing.T) {
	repo := &mockRepo{items: []domcat.Item{
		domcat.Reconstruct(1, "Jazz", "Quartet", "music", "jazz,live", nil, nil, "", nil),
	}}
	emb := &mockEmbedder{}
	if _, err := newTestService(repo, emb).Run(context.Background(), Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emb.texts) != 1 || emb.texts[0] != "Jazz | Quartet | music | jazz,live" {
		t.Errorf("unexpected text: %v", emb.texts)
	}
}

func TestRun_ListError(t *testing.T) {
	repo := &mockRepo{listErr: errors.New("connection refused")}
	if _, err := newTestService(repo, &mockEmbedder{}).Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_Cancelled(t *testing.T) {
	repo := &mockRepo{items: []domcat.Item{item(1, "a", "", nil)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestService(repo, &mockEmbedder{}).Run(ctx, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
