package domain

import "context"

type Entry struct {
	Key   string
	Value []byte
}

// PartitionStore is the durable key-value store shared by all partitions.
// Every call is scoped to one partition namespace; keys of different
// partitions never collide. Get returns ErrKeyNotFound for missing keys.
type PartitionStore interface {
	Get(ctx context.Context, partition, key string) ([]byte, error)
	Put(ctx context.Context, partition, key string, value []byte) error
	Delete(ctx context.Context, partition, key string) error
	List(ctx context.Context, partition, prefix string) ([]Entry, error)
}
