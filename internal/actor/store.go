package actor

import (
	"context"
	"time"

	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
)

// Store is a partition-scoped view of the shared backend. Every call is
// bounded by the configured timeout so a stalled backend surfaces as an
// error instead of blocking the partition indefinitely.
type Store struct {
	backend   domain.PartitionStore
	partition partition.Name
	timeout   time.Duration
}

func NewStore(backend domain.PartitionStore, name partition.Name, timeout time.Duration) *Store {
	return &Store{backend: backend, partition: name, timeout: timeout}
}

func (s *Store) Partition() partition.Name {
	return s.partition
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.backend.Get(ctx, string(s.partition), key)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.backend.Put(ctx, string(s.partition), key, value)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.backend.Delete(ctx, string(s.partition), key)
}

func (s *Store) List(ctx context.Context, prefix string) ([]domain.Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.backend.List(ctx, string(s.partition), prefix)
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
