package posting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

type entry struct {
	t    trigram.T
	docs []uint32
}

func collect(t *testing.T, a *Accumulator) []entry {
	t.Helper()
	var out []entry
	require.NoError(t, a.ForEach(func(tr trigram.T, docs []uint32) error {
		out = append(out, entry{tr, docs})
		return nil
	}))
	return out
}

func TestAccumulatorOrdersOutput(t *testing.T) {
	a := New()
	a.Add(2, trigram.Extract([]byte("foobaz")))
	a.Add(0, trigram.Extract([]byte("foobar")))
	a.Add(1, trigram.Extract([]byte("xyz")))

	got := collect(t, a)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].t, got[i].t)
	}
	byTrigram := make(map[string][]uint32)
	for _, e := range got {
		byTrigram[e.t.String()] = e.docs
	}
	assert.Equal(t, []uint32{0, 2}, byTrigram["foo"])
	assert.Equal(t, []uint32{0}, byTrigram["bar"])
	assert.Equal(t, []uint32{2}, byTrigram["baz"])
	assert.Equal(t, []uint32{1}, byTrigram["xyz"])
	assert.Equal(t, 3, a.Docs())
	assert.Equal(t, int64(9), a.Pairs())
}

func TestAccumulatorSizeGrowsAndResets(t *testing.T) {
	a := New()
	assert.True(t, a.Empty())
	assert.Zero(t, a.Size())

	a.Add(0, trigram.Extract([]byte("abcd")))
	first := a.Size()
	assert.Positive(t, first)

	// Re-adding the same pairs does not grow the estimate.
	a.Add(0, trigram.Extract([]byte("abcd")))
	assert.Equal(t, first, a.Size())

	a.Add(1, trigram.Extract([]byte("abcd")))
	assert.Greater(t, a.Size(), first)

	a.Reset()
	assert.True(t, a.Empty())
	assert.Zero(t, a.Size())
	assert.Zero(t, a.Pairs())
}

func TestAccumulatorForEachStopsOnError(t *testing.T) {
	a := New()
	a.Add(0, trigram.Extract([]byte("abcdefg")))
	boom := errors.New("boom")
	calls := 0
	err := a.ForEach(func(trigram.T, []uint32) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
