package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

type doc struct {
	path    string
	content string
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		IndexPath:    filepath.Join(dir, "ix"),
		MemoryBudget: 1 << 20,
		Codec:        shard.CodecLZ4,
		Roots:        []string{"/src"},
	}
}

func corpus(n int) []doc {
	docs := make([]doc, n)
	for i := range docs {
		docs[i] = doc{
			path:    fmt.Sprintf("/src/pkg%d/file%02d.go", i%3, i),
			content: fmt.Sprintf("package pkg%d\n\nfunc Handler%d() string { return %q }\n", i%3, i, fmt.Sprint("value-", i*i)),
		}
	}
	return docs
}

// snapshot renders an index as path list plus trigram -> paths, which is
// independent of how the build was split up.
type snapshot struct {
	paths    []string
	postings map[trigram.T][]string
}

func snapshotOf(t *testing.T, ix *index.Index) snapshot {
	t.Helper()
	var s snapshot
	require.NoError(t, ix.ForEachPath(func(_ uint32, p string) error {
		s.paths = append(s.paths, p)
		return nil
	}))
	s.postings = make(map[trigram.T][]string)
	require.NoError(t, ix.ForEachPosting(func(tr trigram.T, docs []uint32) error {
		for _, d := range docs {
			s.postings[tr] = append(s.postings[tr], s.paths[d])
		}
		return nil
	}))
	return s
}

func buildSerial(t *testing.T, opts Options, docs []doc) *index.Index {
	t.Helper()
	s, err := Begin(opts)
	require.NoError(t, err)
	for _, d := range docs {
		_, err := s.AddDocument(d.path, []byte(d.content))
		require.NoError(t, err)
	}
	ix, err := s.Finalize(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestFoobarFoobaz(t *testing.T) {
	opts := testOptions(t)
	ix := buildSerial(t, opts, []doc{{"/src/a", "foobar"}, {"/src/b", "foobaz"}})

	lookup := func(s string) []uint32 {
		docs, err := ix.Lookup(trigram.FromString(s))
		require.NoError(t, err)
		return docs
	}
	assert.Equal(t, 2, ix.DocumentCount())
	assert.Equal(t, []uint32{0, 1}, lookup("foo"))
	assert.Equal(t, []uint32{0}, lookup("bar"))
	assert.Equal(t, []uint32{1}, lookup("baz"))
	assert.Equal(t, []string{"/src"}, ix.Roots())

	_, err := os.Stat(opts.IndexPath + ".build")
	assert.True(t, os.IsNotExist(err), "scratch directory removed after finalize")
}

func TestShortDocumentsAreRegistered(t *testing.T) {
	ix := buildSerial(t, testOptions(t), []doc{{"/src/empty", ""}, {"/src/ab", "ab"}, {"/src/abc", "abc"}})
	assert.Equal(t, 3, ix.DocumentCount())
	p, err := ix.PathOf(1)
	require.NoError(t, err)
	assert.Equal(t, "/src/ab", p)
}

func TestFlushTimingDoesNotChangeResult(t *testing.T) {
	docs := corpus(30)

	big := testOptions(t)
	want := snapshotOf(t, buildSerial(t, big, docs))

	for _, codec := range []shard.Codec{shard.CodecNone, shard.CodecLZ4, shard.CodecZstd} {
		small := testOptions(t)
		small.MemoryBudget = 1
		small.Codec = codec
		got := snapshotOf(t, buildSerial(t, small, docs))
		assert.Equal(t, want, got, codec)
	}
}

func TestCheckpointResumeEquivalence(t *testing.T) {
	docs := corpus(20)
	want := snapshotOf(t, buildSerial(t, testOptions(t), docs))

	opts := testOptions(t)
	opts.MemoryBudget = 2000
	s, err := Begin(opts)
	require.NoError(t, err)
	for _, d := range docs[:8] {
		_, err := s.AddDocument(d.path, []byte(d.content))
		require.NoError(t, err)
	}
	require.NoError(t, s.Checkpoint())
	// Work after the checkpoint is lost, including any shards it flushed.
	for _, d := range docs[8:13] {
		_, err := s.AddDocument(d.path, []byte(d.content))
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	r, err := Resume(opts)
	require.NoError(t, err)
	assert.Equal(t, 8, r.DocumentCount())
	assert.Equal(t, s.BuildID(), r.BuildID())
	assert.True(t, r.Committed(docs[7].path))
	assert.False(t, r.Committed(docs[8].path))
	for _, d := range docs {
		if r.Committed(d.path) {
			continue
		}
		_, err := r.AddDocument(d.path, []byte(d.content))
		require.NoError(t, err)
	}
	ix, err := r.Finalize(context.Background())
	require.NoError(t, err)
	defer ix.Close()

	assert.Equal(t, want, snapshotOf(t, ix))
	assert.Equal(t, s.BuildID(), ix.BuildID())
}

func TestPeriodicCheckpoint(t *testing.T) {
	opts := testOptions(t)
	opts.CheckpointEvery = 3
	s, err := Begin(opts)
	require.NoError(t, err)
	for _, d := range corpus(7) {
		_, err := s.AddDocument(d.path, []byte(d.content))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	r, err := Resume(opts)
	require.NoError(t, err)
	defer r.Abort()
	assert.Equal(t, 6, r.DocumentCount())
}

func TestResumeErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := Resume(testOptions(t))
		assert.ErrorIs(t, err, apperrors.ErrCheckpointNotFound)
	})

	t.Run("incompatible options", func(t *testing.T) {
		opts := testOptions(t)
		s, err := Begin(opts)
		require.NoError(t, err)
		_, err = s.AddDocument("/src/a", []byte("hello"))
		require.NoError(t, err)
		require.NoError(t, s.Checkpoint())
		require.NoError(t, s.Close())

		changed := opts
		changed.Limits.MaxLineLen = 10
		_, err = Resume(changed)
		assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)
		assert.True(t, apperrors.RequiresCleanRestart(err))

		// Budget and codec do not affect the result.
		same := opts
		same.MemoryBudget = 1
		same.Codec = shard.CodecZstd
		r, err := Resume(same)
		require.NoError(t, err)
		require.NoError(t, r.Abort())
	})

	t.Run("missing shard", func(t *testing.T) {
		opts := testOptions(t)
		opts.MemoryBudget = 1
		s, err := Begin(opts)
		require.NoError(t, err)
		_, err = s.AddDocument("/src/a", []byte("hello world"))
		require.NoError(t, err)
		require.NoError(t, s.Checkpoint())
		require.NoError(t, s.Close())

		shards, err := filepath.Glob(filepath.Join(opts.IndexPath+".build", "*"+shardExt))
		require.NoError(t, err)
		require.NotEmpty(t, shards)
		require.NoError(t, os.Remove(shards[0]))

		_, err = Resume(opts)
		assert.ErrorIs(t, err, apperrors.ErrMissingShard)
	})
}

func TestSkippedDocumentsConsumeNoID(t *testing.T) {
	opts := testOptions(t)
	opts.Limits = trigram.Limits{MaxLineLen: 10}
	s, err := Begin(opts)
	require.NoError(t, err)

	id, err := s.AddDocument("/src/ok1", []byte("short\nlines"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	_, err = s.AddDocument("/src/long", []byte("this line is far too long"))
	assert.ErrorIs(t, err, apperrors.ErrDocumentSkipped)
	assert.ErrorIs(t, err, trigram.ErrLineTooLong)

	id, err = s.AddDocument("/src/ok2", []byte("fine"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	ix, err := s.Finalize(context.Background())
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, []string{"/src/ok1", "/src/ok2"}, snapshotOf(t, ix).paths)
}

func TestAbortRemovesScratch(t *testing.T) {
	opts := testOptions(t)
	s, err := Begin(opts)
	require.NoError(t, err)
	_, err = s.AddDocument("/src/a", []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, s.Abort())

	_, err = os.Stat(opts.IndexPath + ".build")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(opts.IndexPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.AddDocument("/src/b", []byte("abc"))
	assert.Error(t, err)
}
