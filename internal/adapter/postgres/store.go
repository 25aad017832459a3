package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/orderpulse/internal/domain"
)

const entriesTable = "partition_entries"

// Store persists partition entries in a single (partition, key) keyed table.
type Store struct {
	pool *pgxpool.Pool
	sq   squirrel.StatementBuilderType
}

var _ domain.PartitionStore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		sq:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, error) {
	const op = "postgres.Store.Get"

	query, args, err := s.sq.Select("value").
		From(entriesTable).
		Where(squirrel.Eq{"partition": partition, "key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var value []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, partition, key string, value []byte) error {
	const op = "postgres.Store.Put"

	query, args, err := s.sq.Insert(entriesTable).
		Columns("partition", "key", "value").
		Values(partition, key, value).
		Suffix("ON CONFLICT (partition, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build query: %w", op, err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partition, key string) error {
	const op = "postgres.Store.Delete"

	query, args, err := s.sq.Delete(entriesTable).
		Where(squirrel.Eq{"partition": partition, "key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build query: %w", op, err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// List matches the prefix with starts_with so LIKE wildcards in keys are
// taken literally.
func (s *Store) List(ctx context.Context, partition, prefix string) ([]domain.Entry, error) {
	const op = "postgres.Store.List"

	query, args, err := s.sq.Select("key", "value").
		From(entriesTable).
		Where(squirrel.Eq{"partition": partition}).
		Where("starts_with(key, ?)", prefix).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entry, error) {
		var e domain.Entry
		err := row.Scan(&e.Key, &e.Value)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
