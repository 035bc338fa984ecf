package shard

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

const (
	magic         = "CSSH"
	formatVersion = 1
	headerSize    = 6
)

// Source enumerates posting lists in ascending trigram order, each list in
// ascending document order. posting.Accumulator.ForEach has this shape.
type Source func(fn func(t trigram.T, docs []uint32) error) error

// Info describes a written shard.
type Info struct {
	Path   string
	Bytes  int64
	Groups int
	Pairs  int64
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write creates the shard at path from src. The file is written to
// path+".tmp", synced and renamed, so a shard that exists under its final
// name is always complete.
func Write(path string, codec Codec, src Source) (Info, error) {
	info := Info{Path: path}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return info, fmt.Errorf("creating temp shard file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	cw := &countingWriter{w: f}
	header := make([]byte, headerSize)
	copy(header, magic)
	header[4] = formatVersion
	header[5] = codecIDs[codec]
	if _, err := cw.Write(header); err != nil {
		return info, fmt.Errorf("writing shard header: %w", err)
	}

	body, err := newBodyWriter(cw, codec)
	if err != nil {
		return info, err
	}
	var scratch []byte
	last := trigram.T(0)
	err = src(func(t trigram.T, docs []uint32) error {
		if len(docs) == 0 {
			return nil
		}
		if info.Groups > 0 && t <= last {
			return fmt.Errorf("shard trigram %s out of order after %s", t.Quoted(), last.Quoted())
		}
		last = t
		b := t.Bytes()
		scratch = append(scratch[:0], b[:]...)
		scratch = binary.AppendUvarint(scratch, uint64(len(docs)))
		prev := int64(-1)
		for _, d := range docs {
			if int64(d) <= prev {
				return fmt.Errorf("shard postings for %s not ascending at doc %d", t.Quoted(), d)
			}
			scratch = binary.AppendUvarint(scratch, uint64(int64(d)-prev))
			prev = int64(d)
		}
		if _, err := body.Write(scratch); err != nil {
			return err
		}
		info.Groups++
		info.Pairs += int64(len(docs))
		return nil
	})
	if err != nil {
		return info, fmt.Errorf("writing shard body: %w", err)
	}
	// Terminator group.
	if _, err := body.Write([]byte{0, 0, 0, 0}); err != nil {
		return info, fmt.Errorf("writing shard terminator: %w", err)
	}
	if err := body.Close(); err != nil {
		return info, fmt.Errorf("flushing shard body: %w", err)
	}
	if err := f.Sync(); err != nil {
		return info, fmt.Errorf("syncing shard file: %w", err)
	}
	if err := f.Close(); err != nil {
		return info, fmt.Errorf("closing shard file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return info, fmt.Errorf("renaming shard file: %w", err)
	}
	info.Bytes = cw.n
	return info, nil
}
