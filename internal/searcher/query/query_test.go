package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

func TestPlanShapes(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"abc", `"abc"`},
		{"abcd", `"abc" "bcd"`},
		{"ab", "+"},
		{"a", "+"},
		{"", "+"},
		{".*", "+"},
		{"abc|def", `("abc"|"def")`},
		{"abc|de", "+"},
		{"foo.*bar", `"bar" "foo"`},
		{"(abc)+", `"abc"`},
		{"x*", "+"},
		{`[^\x00-\x{10FFFF}]`, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			q, err := Plan(tt.pattern, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestPlanCharacterClass(t *testing.T) {
	q, err := Plan("ab[cd]", false)
	require.NoError(t, err)
	assert.Equal(t, Or, q.Op)
	assert.Equal(t, []string{"abc", "abd"}, q.Trigram)

	// A class this large says nothing about the byte it matches.
	q, err = Plan(`abc[^x]def`, false)
	require.NoError(t, err)
	assert.Equal(t, And, q.Op)
	assert.Equal(t, []string{"abc", "def"}, q.Trigrams())
}

func TestPlanCaseInsensitive(t *testing.T) {
	q, err := Plan("Hello", true)
	require.NoError(t, err)
	trigrams := q.Trigrams()
	assert.Contains(t, trigrams, "hel")
	assert.Contains(t, trigrams, "HEL")
	assert.Contains(t, trigrams, "llo")
	assert.NotContains(t, trigrams, "Hello")
}

func TestPlanInvalidPattern(t *testing.T) {
	for _, pattern := range []string{"(", "a[", "*a", `\8`} {
		_, err := Plan(pattern, false)
		assert.ErrorIs(t, err, apperrors.ErrInvalidPattern, pattern)
		assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
	}
}

func TestLiteral(t *testing.T) {
	q := Literal("xyz")
	assert.Equal(t, And, q.Op)
	assert.Equal(t, []string{"xyz"}, q.Trigram)
	assert.Equal(t, `"xyz"`, q.String())
}

func TestAndOrSimplification(t *testing.T) {
	// Absorption: abc AND (abc OR def) is abc.
	q := Literal("abc").and(&Query{Op: Or, Trigram: []string{"abc", "def"}})
	assert.Equal(t, `"abc"`, q.String())

	// Identity and absorbing elements.
	assert.Equal(t, `"abc"`, (&Query{Op: All}).and(Literal("abc")).String())
	assert.Equal(t, "+", (&Query{Op: All}).or(Literal("abc")).String())
	assert.Equal(t, "-", (&Query{Op: None}).and(Literal("abc")).String())
	assert.Equal(t, `"abc"`, (&Query{Op: None}).or(Literal("abc")).String())

	// Atoms merge.
	q = Literal("def").and(Literal("abc"))
	assert.Equal(t, `"abc" "def"`, q.String())

	// Common trigrams are factored out of an OR of ANDs.
	x := &Query{Op: And, Trigram: []string{"abc", "def"}}
	y := &Query{Op: And, Trigram: []string{"abc", "ghi"}}
	q = x.or(y)
	assert.Equal(t, And, q.Op)
	assert.Equal(t, []string{"abc"}, q.Trigram)
	require.Len(t, q.Sub, 1)
	assert.Equal(t, `("def"|"ghi")`, q.Sub[0].String())
}

func TestTrigrams(t *testing.T) {
	q := &Query{
		Op:      Or,
		Trigram: []string{"zzz"},
		Sub: []*Query{
			{Op: And, Trigram: []string{"abc", "zzz"}},
		},
	}
	assert.Equal(t, []string{"abc", "zzz"}, q.Trigrams())
}

// A literal split across a concatenation boundary still yields the
// trigram that spans it.
func TestPlanBoundaryTrigram(t *testing.T) {
	q, err := Plan("fo(o|oo)", false)
	require.NoError(t, err)
	assert.Contains(t, q.Trigrams(), "foo")
	assert.NotEqual(t, All, q.Op)
}

func TestPlanReplacementCharIsWildcard(t *testing.T) {
	for _, p := range []string{`ab\x{FFFD}cd`, `ab[\x{FFFD}]cd`, `ab[a\x{FFFD}]cd`} {
		q, err := Plan(p, false)
		require.NoError(t, err)
		for _, tri := range q.Trigrams() {
			assert.NotContains(t, tri, "\xef", "pattern %q", p)
		}
	}
}
