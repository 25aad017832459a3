// Package partition resolves logical identifiers to partition names. A
// partition is the unit of single-threaded ownership: the same identifier
// always resolves to the same name, and the runtime keeps exactly one actor
// per name.
package partition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

var (
	ErrEmptyID     = errors.New("partition id must not be empty")
	ErrUnknownKind = errors.New("unknown partition kind")
)

type Kind string

const (
	KindOrder      Kind = "order"
	KindRestaurant Kind = "restaurant"
	KindGlobal     Kind = "global"
)

// Name is a resolved partition name such as "order:ord_1",
// "restaurant:r1" or "global".
type Name string

func (n Name) String() string { return string(n) }

// Kind reports which kind of identifier the name was resolved from.
func (n Name) Kind() Kind {
	if n == Name(KindGlobal) {
		return KindGlobal
	}
	kind, _, _ := strings.Cut(string(n), ":")
	return Kind(kind)
}

// ID returns the identifier part of the name; empty for the global partition.
func (n Name) ID() string {
	_, id, _ := strings.Cut(string(n), ":")
	return id
}

// Shard maps the name onto [0, shards).
func (n Name) Shard(shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxh3.HashString(string(n)) % uint64(shards))
}

func ForOrder(orderID string) (Name, error) {
	return Resolve(KindOrder, orderID)
}

func ForRestaurant(restaurantID string) (Name, error) {
	return Resolve(KindRestaurant, restaurantID)
}

func Global() Name {
	return Name(KindGlobal)
}

// Resolve builds the partition name for kind and id. The id is ignored for
// the global partition.
func Resolve(kind Kind, id string) (Name, error) {
	switch kind {
	case KindGlobal:
		return Global(), nil
	case KindOrder, KindRestaurant:
		id = strings.TrimSpace(id)
		if id == "" {
			return "", fmt.Errorf("%s: %w", kind, ErrEmptyID)
		}
		return Name(string(kind) + ":" + id), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Parse accepts a raw partition reference from a transport: "global",
// "order:<id>", "restaurant:<id>", or a bare id, which is treated as a
// restaurant id.
func Parse(raw string) (Name, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyID
	}
	if raw == string(KindGlobal) {
		return Global(), nil
	}

	kind, id, found := strings.Cut(raw, ":")
	if !found {
		return ForRestaurant(raw)
	}
	switch Kind(kind) {
	case KindOrder, KindRestaurant:
		return Resolve(Kind(kind), id)
	default:
		// Ids may legitimately contain colons; only known prefixes are kinds.
		return ForRestaurant(raw)
	}
}
