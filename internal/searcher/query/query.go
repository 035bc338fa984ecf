// Package query turns a regular expression into a boolean formula over
// trigrams. Any file the expression can match satisfies the formula, so the
// formula can be evaluated against an index to prune the corpus before the
// real regexp runs.
package query

import (
	"slices"
	"strconv"
	"strings"
)

// Op is the kind of a Query node.
type Op int

const (
	All  Op = iota // every document
	None           // no document
	And            // all of Trigram and all of Sub
	Or             // any of Trigram or any of Sub
)

func (op Op) String() string {
	switch op {
	case All:
		return "all"
	case None:
		return "none"
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return "op(" + strconv.Itoa(int(op)) + ")"
	}
}

// Query is a trigram formula. Trigram holds sorted, distinct three-byte
// strings.
type Query struct {
	Op      Op
	Trigram []string
	Sub     []*Query
}

var noneQuery = &Query{Op: None}

// Literal returns the atom that requires the single trigram t.
func Literal(t string) *Query {
	return &Query{Op: And, Trigram: []string{t}}
}

func (q *Query) isAtom() bool {
	return len(q.Trigram) == 1 && len(q.Sub) == 0
}

func (q *Query) and(r *Query) *Query {
	return q.andOr(r, And)
}

func (q *Query) or(r *Query) *Query {
	return q.andOr(r, Or)
}

// andOr combines q and r under op. Both operands may be reused in the
// result, so callers must not retain them.
func (q *Query) andOr(r *Query, op Op) *Query {
	if len(q.Trigram) == 0 && len(q.Sub) == 1 {
		q = q.Sub[0]
	}
	if len(r.Trigram) == 0 && len(r.Sub) == 1 {
		r = r.Sub[0]
	}

	// If q implies r then q AND r is q and q OR r is r.
	if q.implies(r) {
		if op == And {
			return q
		}
		return r
	}
	if r.implies(q) {
		if op == And {
			return r
		}
		return q
	}

	qAtom, rAtom := q.isAtom(), r.isAtom()
	if q.Op == op && (r.Op == op || rAtom) {
		q.Trigram = stringSet(q.Trigram).union(r.Trigram, false)
		q.Sub = append(q.Sub, r.Sub...)
		return q
	}
	if r.Op == op && qAtom {
		r.Trigram = stringSet(r.Trigram).union(q.Trigram, false)
		return r
	}
	if qAtom && rAtom {
		q.Op = op
		q.Trigram = stringSet(q.Trigram).union(r.Trigram, false)
		return q
	}

	if q.Op == op {
		q.Sub = append(q.Sub, r)
		return q
	}
	if r.Op == op {
		r.Sub = append(r.Sub, q)
		return r
	}

	// An AND of ORs or an OR of ANDs: factor out the trigrams both sides
	// share, so that
	//	(abc|def|ghi) AND (abc|def|jkl) => (abc|def) OR (ghi AND jkl)
	common := stringSet{}
	var qOnly, rOnly stringSet
	i, j := 0, 0
	for i < len(q.Trigram) && j < len(r.Trigram) {
		switch qt, rt := q.Trigram[i], r.Trigram[j]; {
		case qt < rt:
			qOnly = append(qOnly, qt)
			i++
		case qt > rt:
			rOnly = append(rOnly, rt)
			j++
		default:
			common = append(common, qt)
			i++
			j++
		}
	}
	qOnly = append(qOnly, q.Trigram[i:]...)
	rOnly = append(rOnly, r.Trigram[j:]...)
	if len(common) > 0 {
		q.Trigram, r.Trigram = qOnly, rOnly
		// Recurse in case the trimmed operands now simplify further.
		s := q.andOr(r, op)
		other := And + Or - op
		t := &Query{Op: other, Trigram: common}
		return t.andOr(s, other)
	}

	return &Query{Op: op, Sub: []*Query{q, r}}
}

// implies reports whether q => r, using only cheap structural checks.
func (q *Query) implies(r *Query) bool {
	if q.Op == None || r.Op == All {
		return true
	}
	if q.Op == All || r.Op == None {
		return false
	}
	if q.Op == And || (q.Op == Or && q.isAtom()) {
		return trigramsImply(q.Trigram, r)
	}
	if q.Op == Or && r.Op == Or && len(q.Trigram) > 0 && len(q.Sub) == 0 &&
		stringSet(q.Trigram).isSubsetOf(r.Trigram) {
		return true
	}
	return false
}

// trigramsImply reports whether having all of t guarantees q.
func trigramsImply(t []string, q *Query) bool {
	switch q.Op {
	case Or:
		for _, sub := range q.Sub {
			if trigramsImply(t, sub) {
				return true
			}
		}
		for i := range t {
			if stringSet(q.Trigram).have(t[i]) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range q.Sub {
			if !trigramsImply(t, sub) {
				return false
			}
		}
		return stringSet(q.Trigram).isSubsetOf(t)
	}
	return false
}

// andTrigrams returns q AND (OR over s of AND of the trigrams of each
// string). If any string is shorter than three bytes nothing is required.
func (q *Query) andTrigrams(s stringSet) *Query {
	if s.minLen() < 3 {
		return q
	}
	or := noneQuery
	for _, str := range s {
		var trig stringSet
		for i := 0; i+3 <= len(str); i++ {
			trig = append(trig, str[i:i+3])
		}
		trig.clean(false)
		or = or.or(&Query{Op: And, Trigram: trig})
	}
	return q.and(or)
}

// String renders q compactly: + for All, - for None, quoted trigrams
// separated by spaces for AND and by | for OR.
func (q *Query) String() string {
	if q == nil {
		return "?"
	}
	switch q.Op {
	case None:
		return "-"
	case All:
		return "+"
	}
	if q.isAtom() {
		return strconv.Quote(q.Trigram[0])
	}

	tjoin, sjoin, open, end := " ", " ", "", ""
	if q.Op == Or {
		tjoin, sjoin, open, end = "|", ")|(", "(", ")"
	}
	var b strings.Builder
	b.WriteString(open)
	for i, t := range q.Trigram {
		if i > 0 {
			b.WriteString(tjoin)
		}
		b.WriteString(strconv.Quote(t))
	}
	for i, sub := range q.Sub {
		if i > 0 || len(q.Trigram) > 0 {
			b.WriteString(sjoin)
		}
		b.WriteString(sub.String())
	}
	b.WriteString(end)
	return b.String()
}

// Trigrams returns every distinct trigram mentioned anywhere in q, sorted.
func (q *Query) Trigrams() []string {
	var out stringSet
	var walk func(*Query)
	walk = func(q *Query) {
		out = append(out, q.Trigram...)
		for _, sub := range q.Sub {
			walk(sub)
		}
	}
	walk(q)
	out.clean(false)
	return slices.Clip([]string(out))
}
