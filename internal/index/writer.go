package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

type writerState int

const (
	statePaths writerState = iota
	statePostings
	stateDone
)

// WriterOptions sets the metadata recorded in the header.
type WriterOptions struct {
	BuildID   uuid.UUID
	CreatedAt time.Time
	Roots     []string
}

// Writer streams a new index to disk. Paths must all be added before the
// first posting list; posting lists must arrive in strictly ascending trigram
// order. Nothing is visible at the destination until Finish renames the
// completed file into place.
type Writer struct {
	path    string
	tmpPath string
	f       *os.File
	bw      *bufio.Writer
	crc     hash.Hash32
	off     uint64

	tr    trailer
	state writerState

	lastPath  string
	pathIndex []uint64
	pathBuf   []byte
	postBuf   []byte
	lastTri   trigram.T
	haveTri   bool
	spool     *os.File
	spoolW    *bufio.Writer
	buildID   uuid.UUID
	logger    *slog.Logger
}

// Create starts writing an index to path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	if opts.BuildID == uuid.Nil {
		opts.BuildID = uuid.New()
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp index file: %w", err)
	}
	spool, err := os.CreateTemp(dir, ".postindex-*")
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("creating posting index spool: %w", err)
	}

	w := &Writer{
		path:    path,
		tmpPath: tmpPath,
		f:       f,
		crc:     crc32.New(castagnoli),
		spool:   spool,
		spoolW:  bufio.NewWriterSize(spool, 64<<10),
		buildID: opts.BuildID,
		logger:  slog.Default().With("component", "index-writer"),
	}
	w.bw = bufio.NewWriterSize(io.MultiWriter(f, w.crc), 256<<10)

	header := make([]byte, headerSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint32(header[4:], Version)
	binary.LittleEndian.PutUint64(header[8:], uint64(opts.CreatedAt.UnixNano()))
	copy(header[16:], opts.BuildID[:])
	if err := w.write(header); err != nil {
		w.Abort()
		return nil, fmt.Errorf("writing header: %w", err)
	}

	w.tr.rootsOff = w.off
	roots := binary.AppendUvarint(nil, uint64(len(opts.Roots)))
	for _, r := range opts.Roots {
		roots = binary.AppendUvarint(roots, uint64(len(r)))
		roots = append(roots, r...)
	}
	if err := w.write(roots); err != nil {
		w.Abort()
		return nil, fmt.Errorf("writing roots: %w", err)
	}
	w.tr.pathTableOff = w.off
	return w, nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.bw.Write(b)
	w.off += uint64(n)
	return err
}

// AddPath appends the next document and returns its ID.
func (w *Writer) AddPath(p string) (uint32, error) {
	if w.state != statePaths {
		return 0, fmt.Errorf("index writer: AddPath after postings started")
	}
	if w.tr.docCount > uint64(^uint32(0)) {
		return 0, fmt.Errorf("index writer: too many documents")
	}
	id := uint32(w.tr.docCount)
	shared := 0
	if id%pathGroupSize == 0 {
		w.pathIndex = append(w.pathIndex, w.off-w.tr.pathTableOff)
	} else {
		shared = commonPrefix(w.lastPath, p)
	}
	w.pathBuf = binary.AppendUvarint(w.pathBuf[:0], uint64(shared))
	w.pathBuf = binary.AppendUvarint(w.pathBuf, uint64(len(p)-shared))
	w.pathBuf = append(w.pathBuf, p[shared:]...)
	if err := w.write(w.pathBuf); err != nil {
		return 0, fmt.Errorf("writing path: %w", err)
	}
	w.lastPath = p
	w.tr.docCount++
	return id, nil
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// DocumentCount returns the number of paths added so far.
func (w *Writer) DocumentCount() int {
	return int(w.tr.docCount)
}

func (w *Writer) endPaths() error {
	if w.state != statePaths {
		return nil
	}
	w.tr.pathIndexOff = w.off
	var b [8]byte
	for _, off := range w.pathIndex {
		binary.LittleEndian.PutUint64(b[:], off)
		if err := w.write(b[:]); err != nil {
			return fmt.Errorf("writing path index: %w", err)
		}
	}
	w.tr.postTableOff = w.off
	w.state = statePostings
	return nil
}

// AddPosting appends the posting list for t. docs must be strictly
// ascending IDs of documents already added. Empty lists are ignored.
func (w *Writer) AddPosting(t trigram.T, docs []uint32) error {
	if w.state == stateDone {
		return fmt.Errorf("index writer: AddPosting after Finish")
	}
	if err := w.endPaths(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if t >= trigram.Universe {
		return fmt.Errorf("index writer: trigram %#x out of range", uint32(t))
	}
	if w.haveTri && t <= w.lastTri {
		return fmt.Errorf("index writer: trigram %s not after %s", t.Quoted(), w.lastTri.Quoted())
	}
	prev := int64(-1)
	for _, d := range docs {
		if int64(d) <= prev {
			return fmt.Errorf("index writer: postings for %s not strictly ascending at %d", t.Quoted(), d)
		}
		if uint64(d) >= w.tr.docCount {
			return fmt.Errorf("index writer: posting %d for %s beyond document count %d", d, t.Quoted(), w.tr.docCount)
		}
		prev = int64(d)
	}

	var entry [postingEntrySize]byte
	binary.LittleEndian.PutUint32(entry[0:], uint32(t))
	binary.LittleEndian.PutUint32(entry[4:], uint32(len(docs)))
	binary.LittleEndian.PutUint64(entry[8:], w.off-w.tr.postTableOff)
	if _, err := w.spoolW.Write(entry[:]); err != nil {
		return fmt.Errorf("spooling posting index: %w", err)
	}

	w.postBuf = appendPosting(w.postBuf[:0], t.Bytes(), docs)
	if err := w.write(w.postBuf); err != nil {
		return fmt.Errorf("writing posting list: %w", err)
	}
	w.lastTri = t
	w.haveTri = true
	w.tr.trigramCount++
	return nil
}

// Finish writes the posting index and trailer, syncs the file and renames
// it over the destination.
func (w *Writer) Finish() error {
	if w.state == stateDone {
		return fmt.Errorf("index writer: already finished")
	}
	if err := w.endPaths(); err != nil {
		w.Abort()
		return err
	}
	if err := w.finish(); err != nil {
		w.Abort()
		return err
	}
	w.logger.Info("index written",
		"path", w.path,
		"build_id", w.buildID,
		"documents", w.tr.docCount,
		"trigrams", w.tr.trigramCount,
		"bytes", w.off,
	)
	return nil
}

func (w *Writer) finish() error {
	w.tr.postIndexOff = w.off
	if err := w.spoolW.Flush(); err != nil {
		return fmt.Errorf("flushing posting index spool: %w", err)
	}
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding posting index spool: %w", err)
	}
	n, err := io.Copy(w.bw, w.spool)
	w.off += uint64(n)
	if err != nil {
		return fmt.Errorf("copying posting index: %w", err)
	}

	w.tr.version = Version
	tb := w.tr.encode()
	if err := w.write(tb[:trailerCRCOffset]); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flushing index file: %w", err)
	}
	w.tr.crc = w.crc.Sum32()
	tb = w.tr.encode()
	if _, err := w.f.Write(tb[trailerCRCOffset:]); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}
	w.f = nil
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	w.closeSpool()
	w.state = stateDone
	return nil
}

func (w *Writer) closeSpool() {
	if w.spool == nil {
		return
	}
	name := w.spool.Name()
	w.spool.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		w.logger.Error("failed to remove posting index spool", "path", name, "error", err)
	}
	w.spool = nil
}

// Abort discards the partial file. It is safe to call after Finish.
func (w *Writer) Abort() {
	if w.state == stateDone {
		return
	}
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		w.logger.Error("failed to remove temp index file", "path", w.tmpPath, "error", err)
	}
	w.closeSpool()
	w.state = stateDone
}
