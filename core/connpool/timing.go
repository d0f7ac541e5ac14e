package connpool

import (
	"sync/atomic"
	"time"
)

// spanAccumulator tracks count/total/min/max for a duration series
// without locking, using CAS loops for the extrema. This is the
// min/max/bucket accounting shape the teacher's deleted
// observability/monitor.go used for latency histograms, adapted here
// for the pool's per-span timing accumulators (spec.md §4.6:
// acceptTime, queueTime, filterTime, runTime).
type spanAccumulator struct {
	count int64
	total int64 // nanoseconds
	min   int64 // nanoseconds; 0 means "unset"
	max   int64 // nanoseconds
}

func (a *spanAccumulator) observe(d time.Duration) {
	ns := d.Nanoseconds()
	atomic.AddInt64(&a.count, 1)
	atomic.AddInt64(&a.total, ns)

	for {
		prev := atomic.LoadInt64(&a.min)
		if prev != 0 && prev <= ns {
			break
		}
		if atomic.CompareAndSwapInt64(&a.min, prev, ns) {
			break
		}
	}
	for {
		prev := atomic.LoadInt64(&a.max)
		if prev >= ns {
			break
		}
		if atomic.CompareAndSwapInt64(&a.max, prev, ns) {
			break
		}
	}
}

// Snapshot is a point-in-time read of one accumulator.
type Snapshot struct {
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (a *spanAccumulator) snapshot() Snapshot {
	return Snapshot{
		Count: atomic.LoadInt64(&a.count),
		Total: time.Duration(atomic.LoadInt64(&a.total)),
		Min:   time.Duration(atomic.LoadInt64(&a.min)),
		Max:   time.Duration(atomic.LoadInt64(&a.max)),
	}
}

// Timings aggregates the four spans spec.md §4.6 names across every
// Conn a pool has completed.
type Timings struct {
	Accept spanAccumulator
	Queue  spanAccumulator
	Filter spanAccumulator
	Run    spanAccumulator
}

// TimingsSnapshot is a readable copy of Timings for stats reporting.
type TimingsSnapshot struct {
	Accept, Queue, Filter, Run Snapshot
}

func (t *Timings) Snapshot() TimingsSnapshot {
	return TimingsSnapshot{
		Accept: t.Accept.snapshot(),
		Queue:  t.Queue.snapshot(),
		Filter: t.Filter.snapshot(),
		Run:    t.Run.snapshot(),
	}
}

// record folds one completed Conn's four timestamps into the pool's
// running accumulators, per spec.md §4.6: "each Conn carries
// acceptTime, requestQueueTime, requestDequeueTime, filterDoneTime;
// the pool accumulates acceptTime, queueTime, filterTime, runTime
// spans across completed requests."
func (t *Timings) record(c *Conn, runDone time.Time) {
	if c.AcceptTime.IsZero() {
		return
	}
	if !c.QueueTime.IsZero() {
		t.Accept.observe(c.QueueTime.Sub(c.AcceptTime))
	}
	if !c.DequeueTime.IsZero() && !c.QueueTime.IsZero() {
		t.Queue.observe(c.DequeueTime.Sub(c.QueueTime))
	}
	if !c.FilterDoneTime.IsZero() && !c.DequeueTime.IsZero() {
		t.Filter.observe(c.FilterDoneTime.Sub(c.DequeueTime))
	}
	if !c.FilterDoneTime.IsZero() {
		t.Run.observe(runDone.Sub(c.FilterDoneTime))
	}
}
