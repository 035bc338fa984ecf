package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/mmap"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// Index is an open, read-only index. It is safe for concurrent use and keeps
// its mapping until Close, so replacing the file on disk does not affect it.
type Index struct {
	path      string
	file      *mmap.File
	created   time.Time
	buildID   uuid.UUID
	roots     []string
	pathTable []byte
	pathIndex []byte
	postTable []byte
	postIndex []byte
	docCount  int
	triCount  int
	size      int
}

// Stats summarises an open index.
type Stats struct {
	Path         string    `json:"path"`
	Version      uint32    `json:"version"`
	BuildID      string    `json:"build_id"`
	CreatedAt    time.Time `json:"created_at"`
	Documents    int       `json:"documents"`
	Trigrams     int       `json:"trigrams"`
	Bytes        int       `json:"bytes"`
	PathBytes    int       `json:"path_bytes"`
	PostingBytes int       `json:"posting_bytes"`
	Roots        []string  `json:"roots"`
}

// Open maps the index at path and validates it. Any structural problem is
// reported as ErrCorruptIndex and no partially valid index is returned.
func Open(path string) (*Index, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	ix, err := load(path, f.Data)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	ix.file = f
	return ix, nil
}

func load(path string, data []byte) (*Index, error) {
	if len(data) < headerSize+trailerSize {
		return nil, corrupt("file too short (%d bytes)", len(data))
	}
	trailerStart := len(data) - trailerSize
	tb := data[trailerStart:]
	if string(tb[64:]) != TrailerMagic {
		return nil, corrupt("bad trailer magic")
	}
	tr := decodeTrailer(tb)
	if tr.version != Version {
		return nil, corrupt("unsupported version %d", tr.version)
	}
	if string(data[:4]) != Magic {
		return nil, corrupt("bad header magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != tr.version {
		return nil, corrupt("header version %d does not match trailer version %d", v, tr.version)
	}
	if sum := crc32.Checksum(data[:trailerStart+trailerCRCOffset], castagnoli); sum != tr.crc {
		return nil, corrupt("checksum mismatch: stored %08x, computed %08x", tr.crc, sum)
	}

	end := uint64(trailerStart)
	if tr.rootsOff != headerSize ||
		tr.pathTableOff < tr.rootsOff ||
		tr.pathIndexOff < tr.pathTableOff ||
		tr.postTableOff < tr.pathIndexOff ||
		tr.postIndexOff < tr.postTableOff ||
		end < tr.postIndexOff {
		return nil, corrupt("section offsets out of order")
	}
	if tr.docCount > uint64(^uint32(0))+1 || tr.trigramCount > trigram.Universe {
		return nil, corrupt("implausible counts")
	}
	groups := (tr.docCount + pathGroupSize - 1) / pathGroupSize
	if tr.postTableOff-tr.pathIndexOff != groups*8 {
		return nil, corrupt("path index size mismatch")
	}
	if end-tr.postIndexOff != tr.trigramCount*postingEntrySize {
		return nil, corrupt("posting index size mismatch")
	}

	roots, err := decodeRoots(data[tr.rootsOff:tr.pathTableOff])
	if err != nil {
		return nil, err
	}

	ix := &Index{
		path:      path,
		created:   time.Unix(0, int64(binary.LittleEndian.Uint64(data[8:]))),
		roots:     roots,
		pathTable: data[tr.pathTableOff:tr.pathIndexOff],
		pathIndex: data[tr.pathIndexOff:tr.postTableOff],
		postTable: data[tr.postTableOff:tr.postIndexOff],
		postIndex: data[tr.postIndexOff:end],
		docCount:  int(tr.docCount),
		triCount:  int(tr.trigramCount),
		size:      len(data),
	}
	copy(ix.buildID[:], data[16:32])

	for g := 0; g < int(groups); g++ {
		if ix.groupOffset(g) >= uint64(len(ix.pathTable)) {
			return nil, corrupt("path index entry %d out of range", g)
		}
	}
	return ix, nil
}

func decodeRoots(b []byte) ([]string, error) {
	n, k := binary.Uvarint(b)
	if k <= 0 || n > uint64(len(b)) {
		return nil, corrupt("bad roots count")
	}
	pos := k
	roots := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		l, k := binary.Uvarint(b[pos:])
		if k <= 0 || l > uint64(len(b)-pos-k) {
			return nil, corrupt("bad root entry %d", i)
		}
		pos += k
		roots = append(roots, string(b[pos:pos+int(l)]))
		pos += int(l)
	}
	if pos != len(b) {
		return nil, corrupt("trailing bytes after roots")
	}
	return roots, nil
}

// Close releases the mapping. Slices returned earlier remain valid because
// they are copies.
func (ix *Index) Close() error {
	return ix.file.Close()
}

func (ix *Index) Path() string         { return ix.path }
func (ix *Index) DocumentCount() int   { return ix.docCount }
func (ix *Index) TrigramCount() int    { return ix.triCount }
func (ix *Index) BuildID() uuid.UUID   { return ix.buildID }
func (ix *Index) CreatedAt() time.Time { return ix.created }
func (ix *Index) Version() uint32      { return Version }

// Roots returns the source roots recorded at build time.
func (ix *Index) Roots() []string {
	return append([]string(nil), ix.roots...)
}

func (ix *Index) Stats() Stats {
	return Stats{
		Path:         ix.path,
		Version:      Version,
		BuildID:      ix.buildID.String(),
		CreatedAt:    ix.created,
		Documents:    ix.docCount,
		Trigrams:     ix.triCount,
		Bytes:        ix.size,
		PathBytes:    len(ix.pathTable) + len(ix.pathIndex),
		PostingBytes: len(ix.postTable) + len(ix.postIndex),
		Roots:        ix.Roots(),
	}
}

func (ix *Index) groupOffset(g int) uint64 {
	return binary.LittleEndian.Uint64(ix.pathIndex[g*8:])
}

// PathOf returns the path of document id.
func (ix *Index) PathOf(id uint32) (string, error) {
	if int64(id) >= int64(ix.docCount) {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitFailure, "document %d out of range (count %d)", id, ix.docCount)
	}
	g := int(id / pathGroupSize)
	pos := ix.groupOffset(g)
	var cur []byte
	for i := 0; i <= int(id%pathGroupSize); i++ {
		var err error
		cur, pos, err = ix.decodePath(cur, pos)
		if err != nil {
			return "", err
		}
	}
	return string(cur), nil
}

func (ix *Index) decodePath(prev []byte, pos uint64) ([]byte, uint64, error) {
	b := ix.pathTable
	if pos >= uint64(len(b)) {
		return nil, 0, corrupt("path table truncated")
	}
	shared, n := binary.Uvarint(b[pos:])
	if n <= 0 || shared > uint64(len(prev)) {
		return nil, 0, corrupt("bad path prefix at %d", pos)
	}
	pos += uint64(n)
	suffix, n := binary.Uvarint(b[pos:])
	if n <= 0 || suffix > uint64(len(b))-pos-uint64(n) {
		return nil, 0, corrupt("bad path suffix at %d", pos)
	}
	pos += uint64(n)
	out := append(prev[:shared:shared], b[pos:pos+suffix]...)
	return out, pos + suffix, nil
}

// ForEachPath calls fn for every document in ID order.
func (ix *Index) ForEachPath(fn func(id uint32, path string) error) error {
	var (
		cur []byte
		pos uint64
		err error
	)
	for id := 0; id < ix.docCount; id++ {
		if id%pathGroupSize == 0 {
			cur = cur[:0]
			pos = ix.groupOffset(id / pathGroupSize)
		}
		cur, pos, err = ix.decodePath(cur, pos)
		if err != nil {
			return err
		}
		if err := fn(uint32(id), string(cur)); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) entry(i int) (trigram.T, int, uint64) {
	e := ix.postIndex[i*postingEntrySize:]
	return trigram.T(binary.LittleEndian.Uint32(e)),
		int(binary.LittleEndian.Uint32(e[4:])),
		binary.LittleEndian.Uint64(e[8:])
}

// Lookup returns the ascending document IDs containing t. An absent trigram
// yields an empty list and no error.
func (ix *Index) Lookup(t trigram.T) ([]uint32, error) {
	i := sort.Search(ix.triCount, func(i int) bool {
		tt, _, _ := ix.entry(i)
		return tt >= t
	})
	if i >= ix.triCount {
		return []uint32{}, nil
	}
	tt, count, off := ix.entry(i)
	if tt != t {
		return []uint32{}, nil
	}
	docs, _, err := ix.decodePosting(t, count, off, make([]uint32, 0, count))
	return docs, err
}

// decodePosting decodes the posting table entry at off, checking it agrees
// with the posting index.
func (ix *Index) decodePosting(t trigram.T, count int, off uint64, dst []uint32) ([]uint32, uint64, error) {
	b := ix.postTable
	if off > uint64(len(b)) || uint64(len(b))-off < 4 {
		return nil, 0, corrupt("posting offset %d out of range", off)
	}
	want := t.Bytes()
	if !bytes.Equal(b[off:off+3], want[:]) {
		return nil, 0, corrupt("posting table entry at %d is not %s", off, t.Quoted())
	}
	n, k := binary.Uvarint(b[off+3:])
	if k <= 0 || n != uint64(count) || count == 0 {
		return nil, 0, corrupt("posting count mismatch for %s", t.Quoted())
	}
	start := off + 3 + uint64(k)
	docs, used, err := decodeDeltas(dst, b[start:], count, uint64(ix.docCount))
	if err != nil {
		return nil, 0, err
	}
	return docs, start + uint64(used), nil
}

// ForEachPosting calls fn for every trigram in ascending order. docs is
// reused between calls.
func (ix *Index) ForEachPosting(fn func(t trigram.T, docs []uint32) error) error {
	var docs []uint32
	for i := 0; i < ix.triCount; i++ {
		t, count, off := ix.entry(i)
		var err error
		docs, _, err = ix.decodePosting(t, count, off, docs[:0])
		if err != nil {
			return err
		}
		if err := fn(t, docs); err != nil {
			return err
		}
	}
	return nil
}

// ForEachTrigram calls fn with every trigram and its posting count, without
// decoding the lists.
func (ix *Index) ForEachTrigram(fn func(t trigram.T, count int) error) error {
	for i := 0; i < ix.triCount; i++ {
		t, count, _ := ix.entry(i)
		if err := fn(t, count); err != nil {
			return err
		}
	}
	return nil
}
