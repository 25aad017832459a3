// Package storetest holds the behavioral suite every domain.PartitionStore
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/orderpulse/internal/domain"
)

// Run exercises store. The store must be empty when Run starts.
func Run(t *testing.T, store domain.PartitionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "restaurant:none", "order:x")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "restaurant:r1", "order:ord_1", []byte(`{"status":"confirmed"}`)))

		got, err := store.Get(ctx, "restaurant:r1", "order:ord_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"confirmed"}`, string(got))
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "restaurant:r1", "order:ord_over", []byte(`1`)))
		require.NoError(t, store.Put(ctx, "restaurant:r1", "order:ord_over", []byte(`2`)))

		got, err := store.Get(ctx, "restaurant:r1", "order:ord_over")
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), got)
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "iso:a", "k", []byte(`a`)))
		require.NoError(t, store.Put(ctx, "iso:b", "k", []byte(`b`)))

		a, err := store.Get(ctx, "iso:a", "k")
		require.NoError(t, err)
		b, err := store.Get(ctx, "iso:b", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte(`a`), a)
		assert.Equal(t, []byte(`b`), b)

		entries, err := store.List(ctx, "iso:a", "")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("list by prefix", func(t *testing.T) {
		p := "list:p"
		for i := range 3 {
			require.NoError(t, store.Put(ctx, p, fmt.Sprintf("order:o%d", i), []byte(`{}`)))
		}
		require.NoError(t, store.Put(ctx, p, "notification:n1", []byte(`{}`)))

		orders, err := store.List(ctx, p, "order:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"order:o0", "order:o1", "order:o2"}, keys(orders))

		all, err := store.List(ctx, p, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("list treats pattern characters literally", func(t *testing.T) {
		p := "list:literal"
		require.NoError(t, store.Put(ctx, p, "a*b", []byte(`1`)))
		require.NoError(t, store.Put(ctx, p, "axb", []byte(`2`)))
		require.NoError(t, store.Put(ctx, p, "a%b", []byte(`3`)))
		require.NoError(t, store.Put(ctx, p, "a_b", []byte(`4`)))

		got, err := store.List(ctx, p, "a*")
		require.NoError(t, err)
		assert.Equal(t, []string{"a*b"}, keys(got))

		got, err = store.List(ctx, p, "a%")
		require.NoError(t, err)
		assert.Equal(t, []string{"a%b"}, keys(got))

		got, err = store.List(ctx, p, "a_")
		require.NoError(t, err)
		assert.Equal(t, []string{"a_b"}, keys(got))
	})

	t.Run("list empty partition", func(t *testing.T) {
		entries, err := store.List(ctx, "list:empty", "")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "del:p", "k", []byte(`v`)))
		require.NoError(t, store.Delete(ctx, "del:p", "k"))

		_, err := store.Get(ctx, "del:p", "k")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)

		assert.NoError(t, store.Delete(ctx, "del:p", "k"), "deleting a missing key is not an error")
	})

	t.Run("returned values are not aliased", func(t *testing.T) {
		value := []byte(`original`)
		require.NoError(t, store.Put(ctx, "alias:p", "k", value))
		value[0] = 'X'

		got, err := store.Get(ctx, "alias:p", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte(`original`), got)
	})
}

func keys(entries []domain.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}
