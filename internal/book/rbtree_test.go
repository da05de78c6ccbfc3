package book

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ascendingLevels(t *Tree) []Level {
	var out []Level
	it := t.Ascending()
	for it.HasNext() {
		lvl, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, lvl)
	}
	return out
}

func TestTreeUpsertAndTraversalOrder(t *testing.T) {
	tr := NewTree()
	tr.Upsert(d("10"), d("1"))
	tr.Upsert(d("5"), d("2"))
	tr.Upsert(d("15"), d("1"))
	tr.Delete(d("10"))

	levels := ascendingLevels(tr)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(d("5")))
	assert.True(t, levels[0].Quantity.Equal(d("2")))
	assert.True(t, levels[1].Price.Equal(d("15")))

	min, ok := tr.Min()
	require.True(t, ok)
	assert.True(t, min.Price.Equal(d("5")))
	max, ok := tr.Max()
	require.True(t, ok)
	assert.True(t, max.Price.Equal(d("15")))
}

func TestTreeZeroQuantityDeletes(t *testing.T) {
	tr := NewTree()
	tr.Upsert(d("100"), d("3"))
	tr.Upsert(d("100"), d("0"))

	_, ok := tr.Get(d("100"))
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}

func TestTreeOverwriteIsLastWriteWins(t *testing.T) {
	tr := NewTree()
	tr.Upsert(d("100"), d("3"))
	tr.Upsert(d("100"), d("7"))

	qty, ok := tr.Get(d("100"))
	require.True(t, ok)
	assert.True(t, qty.Equal(d("7")))
	assert.Equal(t, 1, tr.Len())
}

func TestTreeDeleteMissingIsNoop(t *testing.T) {
	tr := NewTree()
	tr.Upsert(d("1"), d("1"))
	tr.Delete(d("2"))
	assert.Equal(t, 1, tr.Len())
}

func TestTreeEmptyExtremes(t *testing.T) {
	tr := NewTree()
	_, ok := tr.Min()
	assert.False(t, ok)
	_, ok = tr.Max()
	assert.False(t, ok)
	assert.False(t, tr.Ascending().HasNext())
	assert.False(t, tr.Descending().HasNext())
}

func TestTreeExtremeCacheAcrossDeletes(t *testing.T) {
	tr := NewTree()
	for _, p := range []string{"50", "20", "80", "10", "30", "70", "90"} {
		tr.Upsert(d(p), d("1"))
	}

	tr.Delete(d("10"))
	min, ok := tr.Min()
	require.True(t, ok)
	assert.True(t, min.Price.Equal(d("20")))

	tr.Delete(d("90"))
	max, ok := tr.Max()
	require.True(t, ok)
	assert.True(t, max.Price.Equal(d("80")))

	// Inserting outside the current range moves the caches in O(1).
	tr.Upsert(d("5"), d("1"))
	tr.Upsert(d("95"), d("1"))
	min, _ = tr.Min()
	max, _ = tr.Max()
	assert.True(t, min.Price.Equal(d("5")))
	assert.True(t, max.Price.Equal(d("95")))
}

func TestTreeRedBlackInvariantsUnderChurn(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := NewTree()
	live := make(map[int64]bool)

	for i := 0; i < 5000; i++ {
		k := int64(rng.Intn(800))
		if rng.Intn(3) == 0 {
			tr.Delete(decimal.NewFromInt(k))
			delete(live, k)
		} else {
			tr.Upsert(decimal.NewFromInt(k), d("1"))
			live[k] = true
		}
	}

	require.True(t, tr.CheckIntegrity())
	require.Equal(t, len(live), tr.Len())

	// In-order traversal yields strictly increasing prices and matches the
	// cached extremes.
	levels := ascendingLevels(tr)
	require.Len(t, levels, len(live))
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i-1].Price.LessThan(levels[i].Price))
	}
	if len(levels) > 0 {
		min, _ := tr.Min()
		max, _ := tr.Max()
		assert.True(t, min.Price.Equal(levels[0].Price))
		assert.True(t, max.Price.Equal(levels[len(levels)-1].Price))
	}
}

func TestDescendingIteratorOrder(t *testing.T) {
	tr := NewTree()
	for _, p := range []string{"3", "1", "4", "1.5", "9", "2.6"} {
		tr.Upsert(d(p), d("1"))
	}

	var prices []string
	it := tr.Descending()
	for it.HasNext() {
		lvl, ok := it.Next()
		require.True(t, ok)
		prices = append(prices, lvl.Price.String())
	}
	assert.Equal(t, []string{"9", "4", "3", "2.6", "1.5", "1"}, prices)

	// Restart rebuilds from the current maximum.
	tr.Delete(d("9"))
	it.Restart()
	lvl, ok := it.Next()
	require.True(t, ok)
	assert.True(t, lvl.Price.Equal(d("4")))
}
