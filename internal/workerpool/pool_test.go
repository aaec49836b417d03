package workerpool

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/nimbusfs/internal/metrics"
)

func newTestPool(t *testing.T, count int) *Pool {
	t.Helper()
	p := Initialize(count, 16, func() HTTPHandle { return &testHandle{} }, nil, nil)
	t.Cleanup(p.Destroy)
	return p
}

type testHandle struct {
	resets int32
}

func (h *testHandle) Client() *http.Client { return nil }
func (h *testHandle) Reset()               { atomic.AddInt32(&h.resets, 1) }
func (h *testHandle) Close()               {}

func TestPool_AwaitInstructReturnsJobError(t *testing.T) {
	p := newTestPool(t, 2)

	wantErr := errors.New("boom")
	job := &Job{Fn: func(handle HTTPHandle, args interface{}) error {
		return wantErr
	}}

	err := p.AwaitInstruct(job)
	require.ErrorIs(t, err, wantErr)
}

func TestPool_AwaitInstructRunsJob(t *testing.T) {
	p := newTestPool(t, 2)

	var ran int32
	job := &Job{Fn: func(handle HTTPHandle, args interface{}) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}}

	require.NoError(t, p.AwaitInstruct(job))
	require.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestPool_InstructAsyncFireAndForget(t *testing.T) {
	p := newTestPool(t, 2)

	done := make(chan struct{})
	job := &Job{Fn: func(handle HTTPHandle, args interface{}) error {
		close(done)
		return nil
	}}
	p.InstructAsync(job)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestPool_AwaitAllCombinesErrors(t *testing.T) {
	p := newTestPool(t, 4)

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	jobs := []*Job{
		{Fn: func(handle HTTPHandle, args interface{}) error { return errA }},
		{Fn: func(handle HTTPHandle, args interface{}) error { return nil }},
		{Fn: func(handle HTTPHandle, args interface{}) error { return errB }},
	}

	err := p.AwaitAll(jobs)
	require.Error(t, err)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestPool_DedupSkipsInFlightDuplicate(t *testing.T) {
	p := newTestPool(t, 1)

	var runs int32
	block := make(chan struct{})
	first := &Job{
		DedupKey: "range:0:100",
		Fn: func(handle HTTPHandle, args interface{}) error {
			atomic.AddInt32(&runs, 1)
			<-block
			return nil
		},
	}
	second := &Job{
		DedupKey: "range:0:100",
		Fn: func(handle HTTPHandle, args interface{}) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	firstDone := make(chan struct{}, 1)
	p.Instruct(first, firstDone)
	time.Sleep(20 * time.Millisecond) // let the single worker pick up first

	secondDone := make(chan struct{}, 1)
	p.Instruct(second, secondDone)
	<-secondDone

	close(block)
	<-firstDone

	require.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestPool_InstructRefusesNilCompletionChannel(t *testing.T) {
	p := newTestPool(t, 1)

	var ran int32
	job := &Job{Fn: func(handle HTTPHandle, args interface{}) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}}

	require.False(t, p.Instruct(job, nil))

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&ran), "a refused job must never reach a worker")
}

func TestPool_RecordsJobMetrics(t *testing.T) {
	collector, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "test_workerpool"})
	require.NoError(t, err)

	p := Initialize(2, 16, func() HTTPHandle { return &testHandle{} }, nil, collector)
	t.Cleanup(p.Destroy)

	require.NoError(t, p.AwaitInstruct(&Job{Fn: func(handle HTTPHandle, args interface{}) error { return nil }}))
	require.Error(t, p.AwaitInstruct(&Job{Fn: func(handle HTTPHandle, args interface{}) error { return errors.New("boom") }}))

	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		counts[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	require.EqualValues(t, 2, counts["test_workerpool_worker_jobs_dispatched_total"])
	require.EqualValues(t, 1, counts["test_workerpool_worker_jobs_completed_total"])
	require.EqualValues(t, 1, counts["test_workerpool_worker_jobs_failed_total"])
}
