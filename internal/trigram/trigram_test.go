package trigram

import (
	"bytes"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naive(buf []byte) []T {
	set := make(map[T]struct{})
	for i := 0; i+3 <= len(buf); i++ {
		set[Of(buf[i], buf[i+1], buf[i+2])] = struct{}{}
	}
	out := make([]T, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func TestPacking(t *testing.T) {
	tr := FromString("abc")
	assert.Equal(t, T(0x616263), tr)
	assert.Equal(t, "abc", tr.String())
	assert.Equal(t, [3]byte{'a', 'b', 'c'}, tr.Bytes())
	assert.Less(t, FromString("abc"), FromString("abd"))
	assert.Less(t, FromString("abz"), FromString("b\x00\x00"))
	assert.Equal(t, `"\x00\xffa"`, Of(0, 0xff, 'a').Quoted())
}

func TestExtractShortBuffers(t *testing.T) {
	e := NewExtractor(Limits{})
	for _, in := range [][]byte{nil, {}, []byte("a"), []byte("ab")} {
		out, err := e.Extract(in)
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	out := Extract([]byte("aaaaaa"))
	assert.Equal(t, []T{FromString("aaa")}, out)

	out = Extract([]byte("foobar"))
	want := []T{FromString("bar"), FromString("foo"), FromString("oba"), FromString("oob")}
	assert.Equal(t, want, out)
}

func TestExtractMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	e := NewExtractor(Limits{})
	for i := 0; i < 200; i++ {
		n := rng.Intn(300)
		buf := make([]byte, n)
		alphabet := 2 + rng.Intn(255)
		for j := range buf {
			buf[j] = byte(rng.Intn(alphabet))
		}
		got, err := e.Extract(buf)
		require.NoError(t, err)
		assert.Equal(t, naive(buf), got, "buffer %d", i)
	}
}

func TestExtractorReuseDoesNotLeak(t *testing.T) {
	e := NewExtractor(Limits{})
	_, err := e.Extract([]byte("hello world"))
	require.NoError(t, err)
	out, err := e.Extract([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, []T{FromString("xyz")}, out)
}

func TestExtractLimits(t *testing.T) {
	e := NewExtractor(Limits{MaxFileLen: 10})
	_, err := e.Extract(bytes.Repeat([]byte("a"), 11))
	assert.ErrorIs(t, err, ErrFileTooLong)

	e = NewExtractor(Limits{MaxLineLen: 5})
	_, err = e.Extract([]byte("abcde\nabcdef"))
	assert.ErrorIs(t, err, ErrLineTooLong)
	_, err = e.Extract([]byte("abcde\nabcde\n"))
	assert.NoError(t, err)

	e = NewExtractor(Limits{MaxTrigrams: 2})
	_, err = e.Extract([]byte("abcdef"))
	assert.ErrorIs(t, err, ErrTooManyTrigrams)

	// A failed call must not poison the next one.
	out, err := e.Extract([]byte("abcd"))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func BenchmarkExtract(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	buf := make([]byte, 64<<10)
	for i := range buf {
		buf[i] = byte(32 + rng.Intn(95))
	}
	e := NewExtractor(Limits{})
	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Extract(buf); err != nil {
			b.Fatal(err)
		}
	}
}
