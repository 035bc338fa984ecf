package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DocsIndexedTotal.Add(3)
	m.ShardFlushesTotal.WithLabelValues("success").Inc()
	m.DocsSkippedTotal.WithLabelValues("too_many_trigrams").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DocsIndexedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShardFlushesTotal.WithLabelValues("success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["codesearch_docs_indexed_total"])
	assert.True(t, names["codesearch_docs_skipped_total"])
}

func TestDiscardIsIndependent(t *testing.T) {
	a := Discard()
	b := Discard()
	a.CacheHitsTotal.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheHitsTotal))
}
