// Package index reads and writes the immutable on-disk trigram index.
//
// Layout, all integers little-endian:
//
//	header (32 bytes)   "CSIX" | version u32 | created unix nanos i64 | build id [16]byte
//	roots               uvarint count, then uvarint len + bytes per root
//	path table          per document: uvarint shared prefix, uvarint suffix len, suffix
//	                    (sharing restarts every 16 paths)
//	path index          u64 offset into the path table of every 16th path
//	posting table       per trigram: trigram [3]byte | uvarint count | uvarint deltas
//	                    (first delta = id+1, then id-prev)
//	posting index       per trigram, ascending: trigram u32 | count u32 | offset u64
//	trailer (72 bytes)  section offsets (5 x u64) | doc count u64 | trigram count u64 |
//	                    crc32c u32 | version u32 | "CSTRAILR"
//
// The checksum covers every byte before it, trailer fields included.
package index

import (
	"encoding/binary"
	"hash/crc32"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

const (
	Magic        = "CSIX"
	TrailerMagic = "CSTRAILR"
	Version      = uint32(1)

	headerSize       = 32
	trailerSize      = 72
	trailerCRCOffset = 56
	pathGroupSize    = 16
	postingEntrySize = 16
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// trailer holds the decoded trailer fields.
type trailer struct {
	rootsOff     uint64
	pathTableOff uint64
	pathIndexOff uint64
	postTableOff uint64
	postIndexOff uint64
	docCount     uint64
	trigramCount uint64
	crc          uint32
	version      uint32
}

func (t *trailer) encode() []byte {
	b := make([]byte, trailerSize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], t.rootsOff)
	le.PutUint64(b[8:], t.pathTableOff)
	le.PutUint64(b[16:], t.pathIndexOff)
	le.PutUint64(b[24:], t.postTableOff)
	le.PutUint64(b[32:], t.postIndexOff)
	le.PutUint64(b[40:], t.docCount)
	le.PutUint64(b[48:], t.trigramCount)
	le.PutUint32(b[56:], t.crc)
	le.PutUint32(b[60:], t.version)
	copy(b[64:], TrailerMagic)
	return b
}

func decodeTrailer(b []byte) trailer {
	le := binary.LittleEndian
	return trailer{
		rootsOff:     le.Uint64(b[0:]),
		pathTableOff: le.Uint64(b[8:]),
		pathIndexOff: le.Uint64(b[16:]),
		postTableOff: le.Uint64(b[24:]),
		postIndexOff: le.Uint64(b[32:]),
		docCount:     le.Uint64(b[40:]),
		trigramCount: le.Uint64(b[48:]),
		crc:          le.Uint32(b[56:]),
		version:      le.Uint32(b[60:]),
	}
}

func corrupt(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrCorruptIndex, apperrors.ExitCorrupt, format, args...)
}

// appendPosting encodes one posting table entry.
func appendPosting(dst []byte, tri [3]byte, docs []uint32) []byte {
	dst = append(dst, tri[:]...)
	dst = binary.AppendUvarint(dst, uint64(len(docs)))
	prev := int64(-1)
	for _, d := range docs {
		dst = binary.AppendUvarint(dst, uint64(int64(d)-prev))
		prev = int64(d)
	}
	return dst
}

// decodeDeltas decodes count delta-coded IDs from b into dst. Every ID must
// be below limit.
func decodeDeltas(dst []uint32, b []byte, count int, limit uint64) ([]uint32, int, error) {
	prev := int64(-1)
	pos := 0
	for i := 0; i < count; i++ {
		delta, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, 0, corrupt("truncated posting delta")
		}
		pos += n
		if delta == 0 {
			return nil, 0, corrupt("zero posting delta")
		}
		if delta > limit {
			return nil, 0, corrupt("posting delta %d out of range", delta)
		}
		next := uint64(prev+1) + delta - 1
		if next >= limit {
			return nil, 0, corrupt("posting id %d out of range", next)
		}
		prev = int64(next)
		dst = append(dst, uint32(next))
	}
	return dst, pos, nil
}
