// Package bolt provides a PartitionStore backed by a local bbolt file. Each
// partition is a nested bucket under a single root bucket, so List is a
// cursor seek over one partition's keys.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
)

const (
	fileMode    os.FileMode = 0o600
	rootBucket              = "partitions"
	openTimeout             = 5 * time.Second
	backendName             = "bolt"
)

var errStoreClosed = errors.New("bolt store is closed")

type Store struct {
	db      *bbolt.DB
	root    []byte
	closed  atomic.Bool
	metrics *metrics.StoreMetrics
}

var _ domain.PartitionStore = (*Store)(nil)

// Open opens (or creates) the database at path. A file locked by another
// process fails after a short timeout instead of blocking startup.
func Open(path string, m *metrics.StoreMetrics) (*Store, error) {
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database %s: %w", path, err)
	}

	root := []byte(rootBucket)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(root)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing bolt root bucket: %w", err)
	}

	return &Store{db: db, root: root, metrics: m}, nil
}

func (s *Store) Get(ctx context.Context, partition, key string) (value []byte, err error) {
	defer s.observe("get", time.Now(), &err)
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		b := s.partitionBucket(tx, partition)
		if b == nil {
			return domain.ErrKeyNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return domain.ErrKeyNotFound
		}
		value = slices.Clone(raw)
		return nil
	})
	return value, err
}

func (s *Store) Put(ctx context.Context, partition, key string, value []byte) (err error) {
	defer s.observe("put", time.Now(), &err)
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(s.root).CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return fmt.Errorf("bucket %q: %w", partition, err)
		}
		return b.Put([]byte(key), slices.Clone(value))
	})
}

func (s *Store) Delete(ctx context.Context, partition, key string) (err error) {
	defer s.observe("delete", time.Now(), &err)
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := s.partitionBucket(tx, partition)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) List(ctx context.Context, partition, prefix string) (entries []domain.Entry, err error) {
	defer s.observe("list", time.Now(), &err)
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	p := []byte(prefix)
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := s.partitionBucket(tx, partition)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if v == nil {
				continue // nested bucket
			}
			entries = append(entries, domain.Entry{Key: string(k), Value: slices.Clone(v)})
		}
		return nil
	})
	return entries, err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.root) == nil {
			return fmt.Errorf("bucket %q missing", rootBucket)
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) partitionBucket(tx *bbolt.Tx, partition string) *bbolt.Bucket {
	return tx.Bucket(s.root).Bucket([]byte(partition))
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	return ctx.Err()
}

func (s *Store) observe(op string, start time.Time, err *error) {
	var e error
	if err != nil && !errors.Is(*err, domain.ErrKeyNotFound) {
		e = *err
	}
	s.metrics.Observe(backendName, op, time.Since(start), e)
}
