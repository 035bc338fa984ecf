// Package shard writes the sorted (trigram, document) runs spilled by a build
// session and merges them back into one ordered stream.
//
// A shard file is a 6-byte header ("CSSH", format version, codec id)
// followed by a body, optionally compressed, holding one group per trigram
// in ascending order: trigram [3]byte, uvarint count, then count uvarint
// deltas (first = doc+1). A group with count zero terminates the body.
package shard

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// Codec selects how a shard body is compressed.
type Codec string

const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

var codecIDs = map[Codec]byte{
	CodecNone: 0,
	CodecLZ4:  1,
	CodecZstd: 2,
}

// ParseCodec validates a codec name. The empty string selects lz4.
func ParseCodec(name string) (Codec, error) {
	if name == "" {
		return CodecLZ4, nil
	}
	c := Codec(name)
	if _, ok := codecIDs[c]; !ok {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "unknown shard codec %q", name)
	}
	return c, nil
}

func codecFromID(id byte) (Codec, error) {
	for c, cid := range codecIDs {
		if cid == id {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown shard codec id %d", id)
}

// flushCloser is the body writer; Close flushes compressor state but does not
// close the file underneath.
type flushCloser interface {
	io.Writer
	Close() error
}

type bufferedBody struct {
	*bufio.Writer
}

func (b bufferedBody) Close() error { return b.Flush() }

type compressedBody struct {
	enc flushCloser
	buf *bufio.Writer
}

func (c compressedBody) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c compressedBody) Close() error {
	if err := c.buf.Flush(); err != nil {
		return err
	}
	return c.enc.Close()
}

func newBodyWriter(w io.Writer, c Codec) (flushCloser, error) {
	switch c {
	case CodecNone:
		return bufferedBody{bufio.NewWriterSize(w, 64<<10)}, nil
	case CodecLZ4:
		enc := lz4.NewWriter(w)
		return compressedBody{enc: enc, buf: bufio.NewWriterSize(enc, 64<<10)}, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return compressedBody{enc: enc, buf: bufio.NewWriterSize(enc, 64<<10)}, nil
	default:
		return nil, fmt.Errorf("unknown shard codec %q", c)
	}
}

// newBodyReader returns a buffered reader over the decoded body and a release
// func for decoder resources.
func newBodyReader(r io.Reader, c Codec) (*bufio.Reader, func(), error) {
	switch c {
	case CodecNone:
		return bufio.NewReaderSize(r, 64<<10), func() {}, nil
	case CodecLZ4:
		return bufio.NewReaderSize(lz4.NewReader(r), 64<<10), func() {}, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return bufio.NewReaderSize(dec, 64<<10), dec.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown shard codec %q", c)
	}
}
