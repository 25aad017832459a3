package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/orderpulse/internal/domain"
)

const (
	partitionKeyPrefix = "orderpulse:partition:"
	scanCount          = 256
)

// Store keeps each partition in one Redis hash; entry keys are hash fields.
type Store struct {
	rdb goredis.Cmdable
}

var _ domain.PartitionStore = (*Store)(nil)

func NewStore(rdb goredis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func partitionKey(partition string) string {
	return partitionKeyPrefix + partition
}

func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, partitionKey(partition), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s/%s: %w", partition, key, err)
	}
	return v, nil
}

func (s *Store) Put(ctx context.Context, partition, key string, value []byte) error {
	if err := s.rdb.HSet(ctx, partitionKey(partition), key, value).Err(); err != nil {
		return fmt.Errorf("hset %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partition, key string) error {
	if err := s.rdb.HDel(ctx, partitionKey(partition), key).Err(); err != nil {
		return fmt.Errorf("hdel %s/%s: %w", partition, key, err)
	}
	return nil
}

// List walks the partition hash with HSCAN. HSCAN may return a field more
// than once, so results are deduplicated.
func (s *Store) List(ctx context.Context, partition, prefix string) ([]domain.Entry, error) {
	match := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})
	var entries []domain.Entry

	var cursor uint64
	for {
		kvs, next, err := s.rdb.HScan(ctx, partitionKey(partition), cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("hscan %s: %w", partition, err)
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			if _, dup := seen[kvs[i]]; dup {
				continue
			}
			seen[kvs[i]] = struct{}{}
			entries = append(entries, domain.Entry{Key: kvs[i], Value: []byte(kvs[i+1])})
		}
		if next == 0 {
			return entries, nil
		}
		cursor = next
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
