package shard

import (
	"container/heap"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

// Sink receives merged posting lists in ascending trigram order. docs is
// reused between calls.
type Sink func(t trigram.T, docs []uint32) error

// Merge performs a single-pass k-way merge of its, emitting one posting list
// per trigram with duplicates dropped. Memory is one heap slot per iterator
// plus the list being emitted.
func Merge(its []Iterator, sink Sink) error {
	h := make(cursorHeap, 0, len(its))
	for _, it := range its {
		if it.Next() {
			h = append(h, it)
		} else if err := it.Err(); err != nil {
			return err
		}
	}
	heap.Init(&h)

	var (
		cur  trigram.T
		docs []uint32
	)
	emit := func() error {
		if len(docs) == 0 {
			return nil
		}
		if err := sink(cur, docs); err != nil {
			return fmt.Errorf("emitting posting list %s: %w", cur.Quoted(), err)
		}
		docs = docs[:0]
		return nil
	}

	for h.Len() > 0 {
		top := h[0]
		t, d := top.Trigram(), top.Doc()
		if len(docs) > 0 && t != cur {
			if err := emit(); err != nil {
				return err
			}
		}
		cur = t
		if n := len(docs); n == 0 || docs[n-1] != d {
			docs = append(docs, d)
		}
		if top.Next() {
			heap.Fix(&h, 0)
		} else {
			if err := top.Err(); err != nil {
				return err
			}
			heap.Pop(&h)
		}
	}
	return emit()
}

type cursorHeap []Iterator

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].Trigram() != h[j].Trigram() {
		return h[i].Trigram() < h[j].Trigram()
	}
	return h[i].Doc() < h[j].Doc()
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) {
	*h = append(*h, x.(Iterator))
}

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeFiles opens every shard at paths and merges them into sink.
func MergeFiles(paths []string, sink Sink) (err error) {
	its := make([]Iterator, 0, len(paths))
	cursors := make([]*Cursor, 0, len(paths))
	defer func() {
		for _, c := range cursors {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, p := range paths {
		c, err := OpenCursor(p)
		if err != nil {
			return err
		}
		cursors = append(cursors, c)
		its = append(its, c)
	}
	return Merge(its, sink)
}
