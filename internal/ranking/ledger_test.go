package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust_ClampsAtZero(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, 2, l.Adjust(CategoryFormal, "a", 2))
	assert.Equal(t, 0, l.Adjust(CategoryFormal, "a", -5))
	assert.Equal(t, 0, l.Adjust(CategoryFormal, "a", -1))
	assert.Equal(t, 3, l.Adjust(CategoryFormal, "a", 3))

	// Any sequence of deltas stays non-negative.
	for _, d := range []int{-10, 4, -2, -100, 1} {
		assert.GreaterOrEqual(t, l.Adjust(CategoryMock, "b", d), 0)
	}
}

func TestLookup_DefaultsToZero(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, 0, l.Lookup(CategoryFormal, "nobody"))
	// A zero-delta adjust materializes the entry; lookup is unchanged.
	l.Adjust(CategoryFormal, "a", 0)
	assert.Equal(t, 0, l.Lookup(CategoryFormal, "a"))
}

func TestList_SortedDescendingWithStableTies(t *testing.T) {
	l := NewLedger()
	l.Set(CategoryFormal, "carol", 7)
	l.Set(CategoryFormal, "alice", 3)
	l.Set(CategoryFormal, "bob", 3)
	l.Set(CategoryMock, "alice", 99) // other category must not leak in

	got := l.List(CategoryFormal)
	require.Len(t, got, 3)
	assert.Equal(t, Entry{AccountID: "carol", Score: 7}, got[0])
	assert.Equal(t, Entry{AccountID: "alice", Score: 3}, got[1])
	assert.Equal(t, Entry{AccountID: "bob", Score: 3}, got[2])
}

func TestList_OnlyMaterializedEntries(t *testing.T) {
	l := NewLedger()
	assert.Empty(t, l.List(CategoryFormal))
	l.Adjust(CategoryFormal, "a", -1) // clamped to 0, still materialized
	require.Len(t, l.List(CategoryFormal), 1)
}

func TestParseCategory(t *testing.T) {
	for _, valid := range []string{"mock", "formal"} {
		_, err := ParseCategory(valid)
		assert.NoError(t, err)
	}
	_, err := ParseCategory("ladder")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestExportRoundTrip(t *testing.T) {
	l := NewLedger()
	l.Set(CategoryFormal, "a", 5)
	l.Set(CategoryMock, "a", 2)

	out := l.Export()
	require.Len(t, out[CategoryFormal], 1)
	assert.Equal(t, Entry{AccountID: "a", Score: 5}, out[CategoryFormal][0])
	require.Len(t, out[CategoryMock], 1)
}
