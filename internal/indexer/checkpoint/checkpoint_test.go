package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

func TestSaveLoadRemove(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Load()
	assert.ErrorIs(t, err, apperrors.ErrCheckpointNotFound)

	p := &Progress{
		BuildID:     "b1",
		Fingerprint: "fp",
		NextDocID:   2,
		PathCount:   2,
		PathLogSize: 10,
		Shards:      []string{"shard-000000.csh"},
		Roots:       []string{"/src"},
	}
	require.NoError(t, s.Save(p))
	_, err = os.Stat(filepath.Join(s.Dir(), FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, got.Version)
	assert.Equal(t, p.Shards, got.Shards)
	assert.Equal(t, uint32(2), got.NextDocID)
	assert.Equal(t, int64(10), got.PathLogSize)
	assert.False(t, got.SavedAt.IsZero())

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	_, err = s.Load()
	assert.ErrorIs(t, err, apperrors.ErrCheckpointNotFound)
}

func TestSaveRejectsInconsistentProgress(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Save(&Progress{NextDocID: 3, PathCount: 2}))
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))
	_, err := NewStore(dir).Load()
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"version": 99}`), 0o644))
	_, err = NewStore(dir).Load()
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)
}

func TestVerifyShards(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), nil, 0o644))
	assert.NoError(t, s.VerifyShards(&Progress{Shards: []string{"a"}}))
	err := s.VerifyShards(&Progress{Shards: []string{"a", "b"}})
	assert.ErrorIs(t, err, apperrors.ErrMissingShard)
	assert.True(t, apperrors.RequiresCleanRestart(err))
}

func TestPathLogResumeDiscardsUnsyncedTail(t *testing.T) {
	dir := t.TempDir()
	l, err := CreatePathLog(filepath.Join(dir, PathLogName))
	require.NoError(t, err)
	require.NoError(t, l.Append("/a/one.go"))
	require.NoError(t, l.Append("/a/two.go"))
	size, n, err := l.Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, l.Append("/a/three.go"))
	require.NoError(t, l.Close())

	l, paths, err := OpenPathLog(filepath.Join(dir, PathLogName), size, n)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/one.go", "/a/two.go"}, paths)
	require.NoError(t, l.Append("/a/four.go"))
	size, n, err = l.Sync()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, paths, err = OpenPathLog(filepath.Join(dir, PathLogName), size, n)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, []string{"/a/one.go", "/a/two.go", "/a/four.go"}, paths)
}

func TestPathLogMismatch(t *testing.T) {
	dir := t.TempDir()
	l, err := CreatePathLog(filepath.Join(dir, PathLogName))
	require.NoError(t, err)
	require.NoError(t, l.Append("x"))
	size, _, err := l.Sync()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, _, err = OpenPathLog(filepath.Join(dir, PathLogName), size+5, 1)
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)
	_, _, err = OpenPathLog(filepath.Join(dir, PathLogName), size, 2)
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)
	_, _, err = OpenPathLog(filepath.Join(t.TempDir(), PathLogName), 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleCheckpoint)
}
