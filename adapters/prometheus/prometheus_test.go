package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	require.NotNil(t, m)

	// Repository operations
	timer := m.RepoLoadDuration("ship")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.RepoSaveDuration("ship")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("ship", 5)
	m.ConcurrencyConflict("ship")

	// Cache
	m.CacheHit("ship")
	m.CacheMiss("ship")

	// Snapshots
	timer = m.SnapshotWriteDuration("ship")
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.SnapshotWriteFailure("ship")

	// Consumer
	timer = m.ConsumerEventDuration("ship.launched", true)
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ConsumerEventProcessed("ship.launched", true, true)
	m.ConsumerEventProcessed("ship.launched", false, false)
	m.ConsumerLag("proj-maintenance", 100)

	// Projections
	m.ProjectionApplied("maintenance")
	m.ProjectionStalled("maintenance")

	// Verify metrics were registered
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["theseus_es_repo_load_duration_seconds"])
	assert.True(t, names["theseus_es_concurrency_conflicts_total"])
	assert.True(t, names["theseus_es_snapshot_write_failures_total"])
	assert.True(t, names["theseus_es_consumer_lag"])
	assert.True(t, names["theseus_es_projection_stalls_total"])
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
