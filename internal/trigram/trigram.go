// Package trigram extracts the set of distinct 3-byte substrings from file
// content. A trigram is packed into the low 24 bits of a uint32 so that
// numeric order equals byte-wise lexicographic order.
package trigram

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/bits-and-blooms/bitset"
)

// T is a packed trigram: b0<<16 | b1<<8 | b2.
type T uint32

// Universe is the number of distinct trigram values.
const Universe = 1 << 24

var (
	ErrFileTooLong     = errors.New("file too long")
	ErrLineTooLong     = errors.New("line too long")
	ErrTooManyTrigrams = errors.New("too many distinct trigrams")
)

// Of packs three bytes into a trigram.
func Of(a, b, c byte) T {
	return T(uint32(a)<<16 | uint32(b)<<8 | uint32(c))
}

// FromString packs the first three bytes of s. It panics if s is shorter.
func FromString(s string) T {
	return Of(s[0], s[1], s[2])
}

// Bytes returns the three bytes of t.
func (t T) Bytes() [3]byte {
	return [3]byte{byte(t >> 16), byte(t >> 8), byte(t)}
}

func (t T) String() string {
	b := t.Bytes()
	return string(b[:])
}

// Quoted renders t for diagnostics, escaping non-printable bytes.
func (t T) Quoted() string {
	return strconv.Quote(t.String())
}

// Limits bounds the files the extractor accepts. Zero disables a limit.
type Limits struct {
	MaxFileLen  int64 `json:"max_file_len"`
	MaxLineLen  int   `json:"max_line_len"`
	MaxTrigrams int   `json:"max_trigrams"`
}

// Extractor computes distinct trigram sets. It reuses a 2 MiB seen-set
// across calls and is not safe for concurrent use.
type Extractor struct {
	limits Limits
	seen   *bitset.BitSet
	list   []T
}

func NewExtractor(limits Limits) *Extractor {
	return &Extractor{
		limits: limits,
		seen:   bitset.New(Universe),
		list:   make([]T, 0, 4096),
	}
}

// Extract returns the distinct trigrams of buf in ascending order. Buffers
// shorter than three bytes yield an empty, non-nil set. The returned slice is
// owned by the caller.
func (e *Extractor) Extract(buf []byte) ([]T, error) {
	if e.limits.MaxFileLen > 0 && int64(len(buf)) > e.limits.MaxFileLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLong, len(buf), e.limits.MaxFileLen)
	}
	defer e.reset()

	var tv uint32
	lineLen := 0
	for i, c := range buf {
		tv = (tv<<8 | uint32(c)) & (Universe - 1)
		if i >= 2 {
			t := T(tv)
			if !e.seen.Test(uint(t)) {
				e.seen.Set(uint(t))
				e.list = append(e.list, t)
				if e.limits.MaxTrigrams > 0 && len(e.list) > e.limits.MaxTrigrams {
					return nil, fmt.Errorf("%w: more than %d", ErrTooManyTrigrams, e.limits.MaxTrigrams)
				}
			}
		}
		if c == '\n' {
			lineLen = 0
			continue
		}
		lineLen++
		if e.limits.MaxLineLen > 0 && lineLen > e.limits.MaxLineLen {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrLineTooLong, e.limits.MaxLineLen)
		}
	}

	out := slices.Clone(e.list)
	if out == nil {
		out = []T{}
	}
	slices.Sort(out)
	return out, nil
}

// reset clears only the bits set by the last call.
func (e *Extractor) reset() {
	for _, t := range e.list {
		e.seen.Clear(uint(t))
	}
	e.list = e.list[:0]
}

// Extract is a convenience wrapper that uses a fresh unlimited extractor.
func Extract(buf []byte) []T {
	out, _ := NewExtractor(Limits{}).Extract(buf)
	return out
}
