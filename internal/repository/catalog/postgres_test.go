package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

var eventColumns = []string{
	"id", "title", "description", "category", "tags", "scheduled_at",
	"embedding", "embedding_model", "embedding_updated_at",
}

func newTestPostgresRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewPostgres(sqlDB), mock
}

func TestPostgresListScope_All(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)
	at := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM events ORDER BY id").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(int64(1), "Concert de jazz", "Trio", "music", "jazz", at, "{0.6,0.8}", "minilm", at).
			AddRow(int64(2), "Xerrada", "", "talk", "", nil, nil, "", nil))

	items, err := repo.ListScope(context.Background(), domcat.All())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Concert de jazz", items[0].Title())
	assert.Equal(t, []float32{0.6, 0.8}, items[0].Embedding())
	assert.True(t, items[0].ScheduledAt().Equal(at))

	assert.False(t, items[1].HasEmbedding())
	assert.Nil(t, items[1].ScheduledAt())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListScope_Future(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM events WHERE scheduled_at >=").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	items, err := repo.ListScope(context.Background(), domcat.From(now))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListScope_QueryError(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)

	mock.ExpectQuery("FROM events").WillReturnError(errors.New("connection refused"))

	_, err := repo.ListScope(context.Background(), domcat.All())
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.OpSelect, dbErr.Op)
}

func TestPostgresGet_NotFound(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)

	mock.ExpectQuery("FROM events WHERE id =").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	_, err := repo.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresPut_Transaction(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)
	at := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WithArgs(int64(1), "Concert de jazz", "desc", "music", "jazz,live", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO events").
		WithArgs(int64(2), "Sense data", "desc", "music", "jazz,live", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Put(context.Background(), []domcat.Item{
		testItem(t, 1, "Concert de jazz", &at, nil),
		testItem(t, 2, "Sense data", nil, nil),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut_RollsBackOnError(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err := repo.Put(context.Background(), []domcat.Item{testItem(t, 1, "x", nil, nil)})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveEmbedding(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE events").
		WithArgs(sqlmock.AnyArg(), "minilm", at, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveEmbedding(context.Background(), 3, []float32{1, 0}, "minilm", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveEmbedding_Missing(t *testing.T) {
	repo, mock := newTestPostgresRepo(t)

	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveEmbedding(context.Background(), 3, []float32{1, 0}, "minilm", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
