package shard

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

// Iterator yields (trigram, document) pairs in ascending order.
type Iterator interface {
	Next() bool
	Trigram() trigram.T
	Doc() uint32
	Err() error
}

// Cursor streams the pairs of one shard file.
type Cursor struct {
	path      string
	f         *os.File
	r         *bufio.Reader
	release   func()
	trigram   trigram.T
	remaining uint64
	prev      int64
	doc       uint32
	started   bool
	done      bool
	err       error
}

// OpenCursor opens a shard file for sequential reading.
func OpenCursor(path string) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shard %s: %w", path, err)
	}
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading shard header %s: %w", path, err)
	}
	if string(header[:4]) != magic || header[4] != formatVersion {
		f.Close()
		return nil, fmt.Errorf("invalid shard file %s: bad magic or version", path)
	}
	codec, err := codecFromID(header[5])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid shard file %s: %w", path, err)
	}
	r, release, err := newBodyReader(f, codec)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Cursor{path: path, f: f, r: r, release: release}, nil
}

// Next advances to the next pair. It returns false at the end of the shard
// or on error; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	if c.remaining == 0 {
		var b [3]byte
		if _, err := io.ReadFull(c.r, b[:]); err != nil {
			c.fail(err)
			return false
		}
		n, err := binary.ReadUvarint(c.r)
		if err != nil {
			c.fail(err)
			return false
		}
		if n == 0 {
			c.done = true
			return false
		}
		t := trigram.Of(b[0], b[1], b[2])
		if c.started && t <= c.trigram {
			c.fail(fmt.Errorf("trigram %s out of order", t.Quoted()))
			return false
		}
		c.started = true
		c.trigram = t
		c.remaining = n
		c.prev = -1
	}
	delta, err := binary.ReadUvarint(c.r)
	if err != nil {
		c.fail(err)
		return false
	}
	next := c.prev + int64(delta)
	if delta == 0 || next > int64(^uint32(0)) {
		c.fail(fmt.Errorf("bad posting delta %d", delta))
		return false
	}
	c.prev = next
	c.doc = uint32(next)
	c.remaining--
	return true
}

func (c *Cursor) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	c.err = fmt.Errorf("reading shard %s: %w", c.path, err)
}

func (c *Cursor) Trigram() trigram.T { return c.trigram }

func (c *Cursor) Doc() uint32 { return c.doc }

func (c *Cursor) Err() error { return c.err }

// Close releases the decoder and the file.
func (c *Cursor) Close() error {
	if c.f == nil {
		return nil
	}
	c.release()
	err := c.f.Close()
	c.f = nil
	return err
}
