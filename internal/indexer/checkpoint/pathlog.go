package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// PathLogName is the session's log of accepted document paths.
const PathLogName = "paths.log"

// PathLog is an append-only file of uvarint-length-prefixed paths.
type PathLog struct {
	f    *os.File
	w    *bufio.Writer
	size int64
	n    int
	buf  []byte
}

// CreatePathLog starts an empty log at path, replacing any existing one.
func CreatePathLog(path string) (*PathLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating path log: %w", err)
	}
	return &PathLog{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

// OpenPathLog reopens the log at path, discards anything past size and
// returns the count paths it holds.
func OpenPathLog(path string, size int64, count int) (*PathLog, []string, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "opening path log: %v", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat path log: %w", err)
	}
	if fi.Size() < size {
		f.Close()
		return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "path log has %d bytes, checkpoint expects %d", fi.Size(), size)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("truncating path log: %w", err)
	}

	paths := make([]string, 0, count)
	r := bufio.NewReader(io.LimitReader(f, size))
	for {
		n, err := binary.ReadUvarint(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.Close()
			return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "reading path log: %v", err)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			f.Close()
			return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "reading path log: %v", err)
		}
		paths = append(paths, string(b))
	}
	if len(paths) != count {
		f.Close()
		return nil, nil, apperrors.Newf(apperrors.ErrIncompatibleCheckpoint, apperrors.ExitRestart, "path log holds %d paths, checkpoint expects %d", len(paths), count)
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("seeking path log: %w", err)
	}
	return &PathLog{f: f, w: bufio.NewWriterSize(f, 64<<10), size: size, n: count}, paths, nil
}

// Append buffers one path.
func (l *PathLog) Append(p string) error {
	l.buf = binary.AppendUvarint(l.buf[:0], uint64(len(p)))
	l.buf = append(l.buf, p...)
	n, err := l.w.Write(l.buf)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("appending to path log: %w", err)
	}
	l.n++
	return nil
}

// Sync makes every appended path durable and returns the log size and
// record count to record in a checkpoint.
func (l *PathLog) Sync() (int64, int, error) {
	if err := l.w.Flush(); err != nil {
		return 0, 0, fmt.Errorf("flushing path log: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, 0, fmt.Errorf("syncing path log: %w", err)
	}
	return l.size, l.n, nil
}

func (l *PathLog) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
