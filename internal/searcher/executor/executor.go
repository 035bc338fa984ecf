// Package executor evaluates trigram queries against an index, producing
// the ascending list of candidate document IDs.
package executor

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// Index is the read side of an index needed for evaluation.
type Index interface {
	Lookup(t trigram.T) ([]uint32, error)
	DocumentCount() int
}

// Evaluate returns the ascending IDs of documents satisfying q. All selects
// every document and None selects nothing; a trigram absent from the index
// has an empty posting list. The result is never nil.
func Evaluate(ctx context.Context, q *query.Query, ix Index) ([]uint32, error) {
	e := &evaluator{ctx: ctx, ix: ix}
	docs, err := e.eval(q, nil, false)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []uint32{}
	}
	return docs, nil
}

type evaluator struct {
	ctx context.Context
	ix  Index
}

// eval evaluates q. When restricted is set the result is limited to the
// documents in restrict.
func (e *evaluator) eval(q *query.Query, restrict []uint32, restricted bool) ([]uint32, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch q.Op {
	case query.None:
		return nil, nil

	case query.All:
		if restricted {
			return restrict, nil
		}
		return e.all(), nil

	case query.And:
		list, have := restrict, restricted
		for _, s := range q.Trigram {
			docs, err := e.lookup(s)
			if err != nil {
				return nil, err
			}
			if have {
				list = Intersect(list, docs)
			} else {
				list, have = docs, true
			}
			if len(list) == 0 {
				return nil, nil
			}
		}
		for _, sub := range q.Sub {
			docs, err := e.eval(sub, list, have)
			if err != nil {
				return nil, err
			}
			list, have = docs, true
			if len(list) == 0 {
				return nil, nil
			}
		}
		if !have {
			return e.all(), nil
		}
		return list, nil

	case query.Or:
		var list []uint32
		for _, s := range q.Trigram {
			docs, err := e.lookup(s)
			if err != nil {
				return nil, err
			}
			if restricted {
				docs = Intersect(docs, restrict)
			}
			list = Union(list, docs)
		}
		for _, sub := range q.Sub {
			docs, err := e.eval(sub, restrict, restricted)
			if err != nil {
				return nil, err
			}
			list = Union(list, docs)
		}
		return list, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitFailure, "unknown query op %v", q.Op)
}

func (e *evaluator) lookup(s string) ([]uint32, error) {
	if len(s) != 3 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitFailure, "trigram %q is not three bytes", s)
	}
	docs, err := e.ix.Lookup(trigram.FromString(s))
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", s, err)
	}
	return docs, nil
}

func (e *evaluator) all() []uint32 {
	n := e.ix.DocumentCount()
	docs := make([]uint32, n)
	for i := range docs {
		docs[i] = uint32(i)
	}
	return docs
}

// Intersect returns the IDs present in both ascending lists.
func Intersect(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Union returns the IDs present in either ascending list.
func Union(a, b []uint32) []uint32 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i == len(a) || a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
