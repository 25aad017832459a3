package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForOrder(t *testing.T) {
	name, err := ForOrder("ord_1")
	require.NoError(t, err)
	assert.Equal(t, Name("order:ord_1"), name)
	assert.Equal(t, KindOrder, name.Kind())
	assert.Equal(t, "ord_1", name.ID())
}

func TestForRestaurant(t *testing.T) {
	name, err := ForRestaurant(" r1 ")
	require.NoError(t, err)
	assert.Equal(t, Name("restaurant:r1"), name)
	assert.Equal(t, KindRestaurant, name.Kind())
}

func TestGlobal(t *testing.T) {
	assert.Equal(t, Name("global"), Global())
	assert.Equal(t, KindGlobal, Global().Kind())
	assert.Empty(t, Global().ID())
}

func TestResolve_EmptyID(t *testing.T) {
	_, err := ForOrder("")
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = ForRestaurant("   ")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestResolve_UnknownKind(t *testing.T) {
	_, err := Resolve("user", "u1")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Name
	}{
		{"global", "global"},
		{"order:ord_9", "order:ord_9"},
		{"restaurant:r1", "restaurant:r1"},
		{"r1", "restaurant:r1"},
		{"tenant:a:b", "restaurant:tenant:a:b"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, raw := range []string{"", "  ", "order:", "restaurant: "} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrEmptyID, "raw=%q", raw)
	}
}

func TestSameIdentifierSameName(t *testing.T) {
	a, err := Parse("r1")
	require.NoError(t, err)
	b, err := ForRestaurant("r1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a.Shard(32), b.Shard(32))
}

func TestShard_InRange(t *testing.T) {
	for _, id := range []string{"a", "b", "ord_1", "ord_2", "restaurant-with-long-name"} {
		name, err := ForOrder(id)
		require.NoError(t, err)
		s := name.Shard(16)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 16)
	}
	assert.Equal(t, 0, Global().Shard(1))
	assert.Equal(t, 0, Global().Shard(0))
}
