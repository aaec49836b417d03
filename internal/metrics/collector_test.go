package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, f := range families {
		m := f.GetMetric()[0]
		if m.Counter != nil {
			out[f.GetName()] = m.GetCounter().GetValue()
		} else if m.Gauge != nil {
			out[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	return out
}

func TestNewCollector_Defaults(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)
	require.NotNil(t, c.registry)
	require.Equal(t, 9090, c.config.Port)
	require.Equal(t, "/metrics", c.config.Path)
}

func TestNewCollector_DisabledIsNoOp(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, c.registry)

	// None of these should panic on a disabled collector.
	c.RecordJobDispatched()
	c.RecordJobCompleted()
	c.RecordJobFailed()
	c.SetQueueDepth(5)
	c.AddBytesModified(100)
	c.SetBytesUnloaded(100)
	c.RecordReconcileError()
	c.RecordReconcileWarning()
	require.NoError(t, c.Start(context.Background()))
}

func TestCollector_WorkerPoolCounters(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test_a"})
	require.NoError(t, err)

	c.RecordJobDispatched()
	c.RecordJobDispatched()
	c.RecordJobCompleted()
	c.RecordJobFailed()
	c.SetQueueDepth(3)

	got := gather(t, c)
	require.EqualValues(t, 2, got["test_a_worker_jobs_dispatched_total"])
	require.EqualValues(t, 1, got["test_a_worker_jobs_completed_total"])
	require.EqualValues(t, 1, got["test_a_worker_jobs_failed_total"])
	require.EqualValues(t, 3, got["test_a_worker_queue_depth"])
}

func TestCollector_PageCacheCounters(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test_b"})
	require.NoError(t, err)

	c.AddBytesModified(4096)
	c.AddBytesModified(4096)
	c.SetBytesUnloaded(1024)
	c.RecordReconcileError()
	c.RecordReconcileWarning()
	c.RecordReconcileWarning()

	got := gather(t, c)
	require.EqualValues(t, 8192, got["test_b_pagecache_bytes_modified_total"])
	require.EqualValues(t, 1024, got["test_b_pagecache_bytes_unloaded"])
	require.EqualValues(t, 1, got["test_b_pagecache_reconcile_errors_total"])
	require.EqualValues(t, 2, got["test_b_pagecache_reconcile_warnings_total"])
}

func TestCollector_AddBytesModifiedIgnoresNonPositive(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test_c"})
	require.NoError(t, err)

	c.AddBytesModified(0)
	c.AddBytesModified(-5)

	got := gather(t, c)
	require.EqualValues(t, 0, got["test_c_pagecache_bytes_modified_total"])
}
