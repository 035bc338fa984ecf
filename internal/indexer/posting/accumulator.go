// Package posting accumulates trigram posting lists in memory between shard
// flushes.
package posting

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

// Size estimates, in bytes, used to decide when to flush. They approximate a
// map entry with a fresh roaring bitmap and one array-container slot.
const (
	listOverhead = 96
	pairCost     = 2
)

// Accumulator maps each trigram to the set of documents containing it. It is
// owned by one build session and is not safe for concurrent use.
type Accumulator struct {
	lists map[trigram.T]*roaring.Bitmap
	docs  int
	pairs int64
	size  int64
}

func New() *Accumulator {
	return &Accumulator{
		lists: make(map[trigram.T]*roaring.Bitmap),
	}
}

// Add records that doc contains every trigram in trigrams.
func (a *Accumulator) Add(doc uint32, trigrams []trigram.T) {
	for _, t := range trigrams {
		bm, ok := a.lists[t]
		if !ok {
			bm = roaring.New()
			a.lists[t] = bm
			a.size += listOverhead
		}
		if bm.CheckedAdd(doc) {
			a.pairs++
			a.size += pairCost
		}
	}
	a.docs++
}

// Size returns the estimated memory held by the accumulator.
func (a *Accumulator) Size() int64 {
	return a.size
}

// Len returns the number of distinct trigrams held.
func (a *Accumulator) Len() int {
	return len(a.lists)
}

// Pairs returns the number of (trigram, document) pairs held.
func (a *Accumulator) Pairs() int64 {
	return a.pairs
}

// Docs returns the number of Add calls since the last Reset.
func (a *Accumulator) Docs() int {
	return a.docs
}

// Empty reports whether there is nothing to flush.
func (a *Accumulator) Empty() bool {
	return len(a.lists) == 0
}

// ForEach calls fn for every trigram in ascending order with its documents
// in ascending order. Iteration stops at the first error.
func (a *Accumulator) ForEach(fn func(t trigram.T, docs []uint32) error) error {
	keys := make([]trigram.T, 0, len(a.lists))
	for t := range a.lists {
		keys = append(keys, t)
	}
	slices.Sort(keys)
	for _, t := range keys {
		if err := fn(t, a.lists[t].ToArray()); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops all postings.
func (a *Accumulator) Reset() {
	a.lists = make(map[trigram.T]*roaring.Bitmap)
	a.docs = 0
	a.pairs = 0
	a.size = 0
}
