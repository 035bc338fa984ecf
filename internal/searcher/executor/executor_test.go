package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

var _ Index = (*index.Index)(nil)

// memIndex is an in-memory index over a slice of documents.
type memIndex struct {
	docs     []string
	postings map[trigram.T][]uint32
	lookups  int
	fail     error
}

func newMemIndex(docs ...string) *memIndex {
	m := &memIndex{docs: docs, postings: make(map[trigram.T][]uint32)}
	for id, d := range docs {
		for _, t := range trigram.Extract([]byte(d)) {
			m.postings[t] = append(m.postings[t], uint32(id))
		}
	}
	return m
}

func (m *memIndex) Lookup(t trigram.T) ([]uint32, error) {
	m.lookups++
	if m.fail != nil {
		return nil, m.fail
	}
	docs, ok := m.postings[t]
	if !ok {
		return []uint32{}, nil
	}
	return docs, nil
}

func (m *memIndex) DocumentCount() int { return len(m.docs) }

func evaluate(t *testing.T, ix Index, pattern string, fold bool) []uint32 {
	t.Helper()
	q, err := query.Plan(pattern, fold)
	require.NoError(t, err)
	docs, err := Evaluate(context.Background(), q, ix)
	require.NoError(t, err)
	return docs
}

func TestEvaluateFooBar(t *testing.T) {
	ix := newMemIndex("foobar", "foobaz")
	assert.Equal(t, []uint32{0}, evaluate(t, ix, "bar", false))
	assert.Equal(t, []uint32{1}, evaluate(t, ix, "baz", false))
	assert.Equal(t, []uint32{0, 1}, evaluate(t, ix, "foo", false))
	assert.Equal(t, []uint32{0, 1}, evaluate(t, ix, "fooba[rz]", false))
	assert.Equal(t, []uint32{}, evaluate(t, ix, "qux", false))
}

func TestEvaluateAllAndNone(t *testing.T) {
	ix := newMemIndex("a", "b", "c")
	docs, err := Evaluate(context.Background(), &query.Query{Op: query.All}, ix)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, docs)

	docs, err = Evaluate(context.Background(), &query.Query{Op: query.None}, ix)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	// An AND with no terms is the identity.
	docs, err = Evaluate(context.Background(), &query.Query{Op: query.And}, ix)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, docs)

	// An OR with no terms selects nothing.
	docs, err = Evaluate(context.Background(), &query.Query{Op: query.Or}, ix)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEvaluateNested(t *testing.T) {
	ix := newMemIndex("abc def", "abc ghi", "def ghi", "xyz")
	q := &query.Query{
		Op:      query.And,
		Trigram: []string{"abc"},
		Sub: []*query.Query{
			{Op: query.Or, Trigram: []string{"def", "ghi"}},
		},
	}
	docs, err := Evaluate(context.Background(), q, ix)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, docs)

	q = &query.Query{
		Op: query.Or,
		Sub: []*query.Query{
			{Op: query.And, Trigram: []string{"abc", "def"}},
			query.Literal("xyz"),
		},
	}
	docs, err = Evaluate(context.Background(), q, ix)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3}, docs)
}

func TestEvaluateStopsOnEmptyIntersection(t *testing.T) {
	ix := newMemIndex("abc", "def")
	q := &query.Query{Op: query.And, Trigram: []string{"abc", "def", "ghi", "jkl"}}
	docs, err := Evaluate(context.Background(), q, ix)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 2, ix.lookups)
}

func TestEvaluateErrors(t *testing.T) {
	ix := newMemIndex("abc")
	ix.fail = errors.New("disk gone")
	_, err := Evaluate(context.Background(), query.Literal("abc"), ix)
	assert.ErrorIs(t, err, ix.fail)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, query.Literal("abc"), newMemIndex("abc"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Evaluate(context.Background(), query.Literal("ab"), newMemIndex("abc"))
	assert.Error(t, err)
}

func TestIntersectUnion(t *testing.T) {
	a := []uint32{1, 3, 5, 7}
	b := []uint32{2, 3, 4, 7, 9}
	assert.Equal(t, []uint32{3, 7}, Intersect(a, b))
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 7, 9}, Union(a, b))
	assert.Empty(t, Intersect(a, nil))
	assert.Equal(t, a, Union(a, nil))
	assert.Equal(t, b, Union(nil, b))
}

// superset checks that every document the regexp matches is a candidate.
func superset(t *testing.T, docs []string, pattern string, fold bool) []uint32 {
	t.Helper()
	expr := "(?m)" + pattern
	if fold {
		expr = "(?i)" + expr
	}
	re := regexp.MustCompile(expr)
	got := evaluate(t, newMemIndex(docs...), pattern, fold)
	candidates := make(map[uint32]bool, len(got))
	for _, id := range got {
		candidates[id] = true
	}
	for id, d := range docs {
		if re.MatchString(d) {
			assert.True(t, candidates[uint32(id)], "pattern %q: document %d (%q) matches but was pruned", pattern, id, d)
		}
	}
	return got
}

func TestSupersetAdversarial(t *testing.T) {
	gap := strings.Repeat("x", 500)
	docs := []string{
		"ab",
		"xaby",
		"foo" + gap + "bar",
		"HELLO world",
		"hello World",
		"HeLlO",
		"the quick brown fox",
		"func main() {\n\treturn\n}",
		"",
		"bar then foo",
		"ſecret",
		"ab\xffcd",
	}
	patterns := []struct {
		pattern string
		fold    bool
	}{
		{"ab", false},
		{"a.", false},
		{"foo.*bar", false},
		{"foo.{0,600}bar", false},
		{"foo(x+)bar", false},
		{"hello", true},
		{"HELLO", false},
		{"(quick|slow) (brown|red)", false},
		{"^func main", false},
		{`main\(\)`, false},
		{"[a-z]+ [a-z]+", false},
		{"x*", false},
		{"secret", true},
		{"bar|foo", false},
		{"(?s)main.*return", false},
		{`\btheir?\b`, false},
		{`ab\x{FFFD}cd`, false},
		{`ab[\x{FFFD}]cd`, false},
		{`ab[\x{FFFD}x]cd`, true},
	}
	for _, p := range patterns {
		t.Run(fmt.Sprintf("%s/%v", p.pattern, p.fold), func(t *testing.T) {
			superset(t, docs, p.pattern, p.fold)
		})
	}
}

func TestSupersetPrunes(t *testing.T) {
	docs := []string{"foobar", "foobaz", "nothing here", "barfoo"}
	got := superset(t, docs, "foo.*bar", false)
	assert.Equal(t, []uint32{0, 3}, got)
	got = superset(t, docs, "foobar", false)
	assert.Equal(t, []uint32{0}, got)
}

func TestSupersetRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	alphabet := "abcAB\n"
	docs := make([]string, 60)
	for i := range docs {
		b := make([]byte, rng.Intn(40))
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		docs[i] = string(b)
	}
	patterns := []string{"abc", "a.c", "ab+c", "(ab|ba)c", "a[bc]a", "c.*a", "bab?a", "ca{2,}b", "AB|ab", "a\nb"}
	for _, p := range patterns {
		superset(t, docs, p, false)
		superset(t, docs, p, true)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	rng := rand.New(rand.NewSource(11))
	words := []string{"func", "return", "struct", "interface", "package", "import", "error", "context"}
	docs := make([]string, 2000)
	for i := range docs {
		var sb strings.Builder
		for j := 0; j < 50; j++ {
			sb.WriteString(words[rng.Intn(len(words))])
			sb.WriteByte(' ')
		}
		docs[i] = sb.String()
	}
	ix := newMemIndex(docs...)
	q, err := query.Plan("(struct|interface) error", false)
	require.NoError(b, err)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Evaluate(context.Background(), q, ix); err != nil {
			b.Fatal(err)
		}
	}
}
