// Package jobqueue is the background-job instantiation of the C9
// generic named-resource pool: a fixed fleet of worker goroutines
// draining a shared job queue, where the "resource" handed out is a
// job slot rather than a connection handle. Each submitted Job gets a
// uuid (per SPEC_FULL.md §2's domain-stack wiring of
// github.com/google/uuid) and a Wait(deadline) that mirrors spec.md
// §4.9's get(pool, n, deadline) TIMEOUT contract applied to job
// completion instead of handle acquisition.
//
// The worker fleet itself is grounded on the teacher's
// core/pools/worker_pool.go work-stealing channel-per-worker loop,
// generalized from anonymous Task funcs to tracked Jobs with ids and
// results.
package jobqueue

import (
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned by Wait when deadline passes before the job
// completes.
var ErrTimeout = errors.New("jobqueue: wait timed out")

// Task is the unit of work a Job runs.
type Task func() (any, error)

// Job tracks one submitted unit of work.
type Job struct {
	ID   uuid.UUID
	done chan struct{}

	result any
	err    error
}

// Wait blocks until the job completes or deadline passes.
func (j *Job) Wait(deadline time.Time) (any, error) {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-j.done:
			return j.result, j.err
		default:
			return nil, ErrTimeout
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-j.done:
		return j.result, j.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}

type workerQueue struct {
	jobs chan *jobEnvelope
}

type jobEnvelope struct {
	job  *Job
	task Task
}

// Queue is a named fixed-size worker fleet, the C9 instance spec.md
// §2 calls the "job-queue thread pool".
type Queue struct {
	name       string
	numWorkers int
	queues     []*workerQueue
	log        *logrus.Logger

	submitted uint64
}

// New starts numWorkers worker goroutines (defaulting to
// runtime.NumCPU()) backing a named job queue.
func New(name string, numWorkers int, log *logrus.Logger) *Queue {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	q := &Queue{
		name:       name,
		numWorkers: numWorkers,
		queues:     make([]*workerQueue, numWorkers),
		log:        log,
	}
	for i := range q.queues {
		q.queues[i] = &workerQueue{jobs: make(chan *jobEnvelope, 256)}
		go q.runWorker(i)
	}
	return q
}

func (q *Queue) runWorker(id int) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("queue", q.name).WithField("worker", id).
				WithField("panic", r).Error("jobqueue: recovered panic, worker exiting")
		}
	}()

	own := q.queues[id]
	for {
		select {
		case env, ok := <-own.jobs:
			if !ok {
				return
			}
			q.run(env)
		default:
			if q.trySteal(id) {
				continue
			}
			env, ok := <-own.jobs
			if !ok {
				return
			}
			q.run(env)
		}
	}
}

// trySteal drains one job from a sibling queue if this worker's own
// queue is momentarily empty, the same victim-scan shape as the
// teacher's worker_pool.go.
func (q *Queue) trySteal(id int) bool {
	start := (id + 1) % q.numWorkers
	for i := 0; i < q.numWorkers-1; i++ {
		victim := q.queues[(start+i)%q.numWorkers]
		select {
		case env, ok := <-victim.jobs:
			if ok {
				q.run(env)
				return true
			}
		default:
		}
	}
	return false
}

func (q *Queue) run(env *jobEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			env.job.err = errorFromPanic(r)
		}
		close(env.job.done)
	}()
	env.job.result, env.job.err = env.task()
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("jobqueue: task panicked")
}

// Submit enqueues task round-robin across the worker fleet and
// returns a Job handle the caller can Wait on.
func (q *Queue) Submit(task Task) *Job {
	job := &Job{ID: uuid.New(), done: make(chan struct{})}
	env := &jobEnvelope{job: job, task: task}

	idx := int(q.submitted) % q.numWorkers
	q.submitted++

	select {
	case q.queues[idx].jobs <- env:
	default:
		// Fleet backlogged: fall back to the next worker, then
		// finally run inline rather than block the submitting
		// goroutine indefinitely (mirrors spec.md's "backend
		// unavailable -> 503" posture for an exhausted resource pool).
		idx = (idx + 1) % q.numWorkers
		select {
		case q.queues[idx].jobs <- env:
		default:
			q.run(env)
		}
	}
	return job
}

// Close stops accepting new work and lets in-flight jobs finish.
func (q *Queue) Close() {
	for _, wq := range q.queues {
		close(wq.jobs)
	}
}
