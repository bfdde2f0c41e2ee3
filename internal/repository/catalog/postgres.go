package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
	"github.com/ZaineBoulbahaim/Streamevents/internal/tracing"
)

const selectColumns = `SELECT id, title, description, category, tags, scheduled_at,
	embedding, embedding_model, embedding_updated_at FROM events`

const upsertEvent = `INSERT INTO events (id, title, description, category, tags, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	category = EXCLUDED.category,
	tags = EXCLUDED.tags,
	scheduled_at = EXCLUDED.scheduled_at,
	embedding = NULL,
	embedding_model = '',
	embedding_updated_at = NULL`

const updateEmbedding = `UPDATE events
SET embedding = $1, embedding_model = $2, embedding_updated_at = $3
WHERE id = $4`

// PostgresRepo keeps the catalog in the events table with embeddings as REAL[].
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgres creates a table-backed catalog repository.
func NewPostgres(sqlDB *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: sqlDB}
}

// ListScope returns every item inside scope, ordered by id.
func (r *PostgresRepo) ListScope(ctx context.Context, scope domcat.Scope) (items []domcat.Item, err error) {
	ctx, span := tracing.Start(ctx, "catalog.postgres.list_scope")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("catalog.items", len(items)))
		span.End()
	}()

	query := selectColumns + ` ORDER BY id`
	var args []any
	if since, ok := scope.Since(); ok {
		query = selectColumns + ` WHERE scheduled_at >= $1 ORDER BY id`
		args = append(args, since)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpSelect, Err: err}
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, &db.Error{Op: db.OpSelect, Err: scanErr}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpSelect, Err: err}
	}
	return items, nil
}

// Get returns a single item.
func (r *PostgresRepo) Get(ctx context.Context, id int64) (domcat.Item, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domcat.Item{}, fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
		}
		return domcat.Item{}, &db.Error{Op: db.OpSelect, Err: err}
	}
	return item, nil
}

// Put upserts items in one transaction. Content changes clear the stored embedding.
func (r *PostgresRepo) Put(ctx context.Context, items []domcat.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpUpsert, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for i := range items {
		it := &items[i]
		var scheduled any
		if at := it.ScheduledAt(); at != nil {
			scheduled = *at
		}
		if _, err := tx.ExecContext(ctx, upsertEvent,
			it.ID(), it.Title(), it.Description(), it.Category(), it.Tags(), scheduled,
		); err != nil {
			return &db.Error{Op: db.OpUpsert, Err: fmt.Errorf("event %d: %w", it.ID(), err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &db.Error{Op: db.OpUpsert, Err: err}
	}
	return nil
}

// SaveEmbedding updates only the embedding columns of an existing item.
func (r *PostgresRepo) SaveEmbedding(ctx context.Context, id int64, vec []float32, model string, at time.Time) error {
	arr := make(pq.Float64Array, len(vec))
	for i, v := range vec {
		arr[i] = float64(v)
	}
	res, err := r.db.ExecContext(ctx, updateEmbedding, arr, model, at, id)
	if err != nil {
		return &db.Error{Op: db.OpUpdate, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &db.Error{Op: db.OpUpdate, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (domcat.Item, error) {
	var (
		id          int64
		title       string
		description string
		category    string
		tags        string
		model       string
		scheduledAt sql.NullTime
		embeddedAt  sql.NullTime
		embedding   pq.Float64Array
	)
	if err := s.Scan(&id, &title, &description, &category, &tags, &scheduledAt,
		&embedding, &model, &embeddedAt); err != nil {
		return domcat.Item{}, err //nolint:wrapcheck // callers wrap with the operation
	}

	var vec []float32
	if len(embedding) > 0 {
		vec = make([]float32, len(embedding))
		for i, v := range embedding {
			vec[i] = float32(v)
		}
	}

	return domcat.Reconstruct(id, title, description, category, tags,
		nullTime(scheduledAt), vec, model, nullTime(embeddedAt)), nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
