package index

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

// Merge writes to dst an index holding a's documents followed by b's. B's
// IDs are shifted by a.DocumentCount(), posting lists are unioned per
// trigram and the roots are the sorted union of both. The inputs are not
// modified; dst may name one of the input files.
func Merge(dst string, a, b *Index) (*Index, error) {
	return MergeAll(dst, []*Index{a, b}, MergeOptions{})
}

// MergeOptions overrides metadata of the merged index.
type MergeOptions struct {
	BuildID uuid.UUID
	Roots   []string
	// Shadow drops documents of a source whose path lies under a root of
	// any later source, so re-adding a tree replaces its old entries.
	Shadow bool
}

// MergeAll concatenates srcs in order. With a single source it rewrites that
// index unchanged apart from its build metadata.
func MergeAll(dst string, srcs []*Index, opts MergeOptions) (*Index, error) {
	start := time.Now()
	logger := slog.Default().With("component", "index-merge")

	roots := opts.Roots
	if roots == nil {
		for _, s := range srcs {
			roots = append(roots, s.roots...)
		}
	}
	roots = slices.Clone(roots)
	slices.Sort(roots)
	roots = slices.Compact(roots)

	w, err := Create(dst, WriterOptions{BuildID: opts.BuildID, Roots: roots})
	if err != nil {
		return nil, err
	}
	if err := mergeInto(w, srcs, opts.Shadow); err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}
	logger.Info("indexes merged",
		"dst", dst,
		"sources", len(srcs),
		"documents", w.DocumentCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Open(dst)
}

func mergeInto(w *Writer, srcs []*Index, shadow bool) error {
	// remap[i][id] is the new ID of source i's document id, or -1 when the
	// document is shadowed.
	remap := make([][]int64, len(srcs))
	total := int64(0)
	for i, s := range srcs {
		var later []string
		if shadow {
			for _, next := range srcs[i+1:] {
				later = append(later, next.roots...)
			}
		}
		remap[i] = make([]int64, s.docCount)
		err := s.ForEachPath(func(id uint32, p string) error {
			if underAny(p, later) {
				remap[i][id] = -1
				return nil
			}
			if total > int64(^uint32(0)) {
				return fmt.Errorf("merged index exceeds %d documents", uint64(^uint32(0))+1)
			}
			remap[i][id] = total
			total++
			_, err := w.AddPath(p)
			return err
		})
		if err != nil {
			return fmt.Errorf("copying paths from %s: %w", s.path, err)
		}
	}

	pos := make([]int, len(srcs))
	var docs, scratch []uint32
	for {
		next, found := trigram.T(0), false
		for i, s := range srcs {
			if pos[i] >= s.triCount {
				continue
			}
			t, _, _ := s.entry(pos[i])
			if !found || t < next {
				next, found = t, true
			}
		}
		if !found {
			return nil
		}

		docs = docs[:0]
		for i, s := range srcs {
			if pos[i] >= s.triCount {
				continue
			}
			t, count, off := s.entry(pos[i])
			if t != next {
				continue
			}
			var err error
			scratch, _, err = s.decodePosting(t, count, off, scratch[:0])
			if err != nil {
				return fmt.Errorf("reading %s from %s: %w", t.Quoted(), s.path, err)
			}
			for _, d := range scratch {
				if nd := remap[i][d]; nd >= 0 {
					docs = append(docs, uint32(nd))
				}
			}
			pos[i]++
		}
		if err := w.AddPosting(next, docs); err != nil {
			return err
		}
	}
}

// underAny reports whether p equals or lies beneath one of roots.
func underAny(p string, roots []string) bool {
	for _, r := range roots {
		if p == r || strings.HasPrefix(p, strings.TrimSuffix(r, "/")+"/") {
			return true
		}
	}
	return false
}

// MergeFiles merges the indexes at srcA and srcB into dst.
func MergeFiles(dst, srcA, srcB string) error {
	a, err := Open(srcA)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := Open(srcB)
	if err != nil {
		return err
	}
	defer b.Close()
	merged, err := Merge(dst, a, b)
	if err != nil {
		return err
	}
	return merged.Close()
}
