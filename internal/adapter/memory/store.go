// Package memory provides an in-process PartitionStore. State does not
// survive a restart; it backs development and tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/pscheid92/orderpulse/internal/domain"
)

type Store struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
}

var _ domain.PartitionStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{partitions: make(map[string]map[string][]byte)}
}

func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.partitions[partition][key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

func (s *Store) Put(ctx context.Context, partition, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string][]byte)
		s.partitions[partition] = p
	}
	p[key] = slices.Clone(value)
	return nil
}

func (s *Store) Delete(ctx context.Context, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions[partition], key)
	return nil
}

func (s *Store) List(ctx context.Context, partition, prefix string) ([]domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Entry
	for k, v := range s.partitions[partition] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.Entry{Key: k, Value: slices.Clone(v)})
		}
	}
	slices.SortFunc(out, func(a, b domain.Entry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
