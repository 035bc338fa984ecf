package shard

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
)

type list struct {
	t    trigram.T
	docs []uint32
}

func source(lists ...list) Source {
	return func(fn func(trigram.T, []uint32) error) error {
		for _, l := range lists {
			if err := fn(l.t, l.docs); err != nil {
				return err
			}
		}
		return nil
	}
}

func drain(t *testing.T, paths ...string) []list {
	t.Helper()
	var out []list
	require.NoError(t, MergeFiles(paths, func(tr trigram.T, docs []uint32) error {
		out = append(out, list{tr, slices.Clone(docs)})
		return nil
	}))
	return out
}

var (
	abc = trigram.FromString("abc")
	bcd = trigram.FromString("bcd")
	xyz = trigram.FromString("xyz")
)

func TestWriteAndReadBackEachCodec(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(string(codec), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s0.shard")
			info, err := Write(path, codec, source(
				list{abc, []uint32{0, 5, 300}},
				list{xyz, []uint32{7}},
			))
			require.NoError(t, err)
			assert.Equal(t, 2, info.Groups)
			assert.Equal(t, int64(4), info.Pairs)
			assert.Positive(t, info.Bytes)
			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))

			got := drain(t, path)
			assert.Equal(t, []list{
				{abc, []uint32{0, 5, 300}},
				{xyz, []uint32{7}},
			}, got)
		})
	}
}

func TestMergeInterleavesAndDedupes(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	_, err := Write(a, CodecLZ4, source(list{abc, []uint32{0, 2}}, list{xyz, []uint32{1}}))
	require.NoError(t, err)
	_, err = Write(b, CodecZstd, source(list{abc, []uint32{1, 2}}, list{bcd, []uint32{4}}))
	require.NoError(t, err)
	_, err = Write(c, CodecNone, source())
	require.NoError(t, err)

	got := drain(t, a, b, c)
	assert.Equal(t, []list{
		{abc, []uint32{0, 1, 2}},
		{bcd, []uint32{4}},
		{xyz, []uint32{1}},
	}, got)
}

func TestMergeZeroShards(t *testing.T) {
	assert.Empty(t, drain(t))
}

func TestWriteRejectsUnorderedInput(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(filepath.Join(dir, "bad"), CodecNone, source(list{xyz, []uint32{1}}, list{abc, []uint32{1}}))
	assert.Error(t, err)
	_, err = Write(filepath.Join(dir, "bad2"), CodecNone, source(list{abc, []uint32{3, 3}}))
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "bad"))
	assert.True(t, os.IsNotExist(err))
}

func TestCursorDetectsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s")
	_, err := Write(path, CodecNone, source(list{abc, []uint32{1, 2, 3}}))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	err = MergeFiles([]string{path}, func(trigram.T, []uint32) error { return nil })
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)
	c, err = ParseCodec("zstd")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)
	_, err = ParseCodec("gzip")
	assert.Error(t, err)
}
