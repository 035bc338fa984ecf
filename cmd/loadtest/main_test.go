package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

func TestPercentile(t *testing.T) {
	var lat []time.Duration
	for i := 1; i <= 100; i++ {
		lat = append(lat, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(lat, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(lat, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(lat, 100))
	assert.Equal(t, time.Millisecond, percentile(lat, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestMeanAndStddev(t *testing.T) {
	lat := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond,
		5 * time.Millisecond, 5 * time.Millisecond, 7 * time.Millisecond, 9 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, mean(lat))
	assert.Equal(t, 2*time.Millisecond, stddev(lat))
	assert.Zero(t, stddev(nil))
}

func TestRecordQuery(t *testing.T) {
	s := NewStats()
	s.RecordQuery(time.Millisecond, &searcher.Result{Candidates: []searcher.Candidate{{ID: 1}}, Cached: true}, 3, nil)
	s.RecordQuery(time.Millisecond, &searcher.Result{}, 0, nil)
	s.RecordQuery(time.Millisecond, nil, 0, errors.New("boom"))

	assert.Equal(t, int64(3), s.totalQueries.Load())
	assert.Equal(t, int64(1), s.errorCount.Load())
	assert.Equal(t, int64(1), s.cacheHits.Load())
	assert.Equal(t, int64(1), s.zeroResults.Load())
	assert.Equal(t, int64(1), s.candidates.Load())
	assert.Equal(t, int64(3), s.matches.Load())
	assert.Len(t, s.latencies, 2)
}

func TestReadPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nfoo\n\n  bar.*baz  \n"), 0o644))
	got, err := readPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar.*baz"}, got)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = readPatterns(empty)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
