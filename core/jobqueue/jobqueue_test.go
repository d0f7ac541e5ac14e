package jobqueue

import (
	"errors"
	"testing"
	"time"
)

func TestQueue_SubmitAndWaitReturnsResult(t *testing.T) {
	q := New("test", 2, nil)
	defer q.Close()

	job := q.Submit(func() (any, error) { return 42, nil })

	v, err := job.Wait(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 42 {
		t.Fatalf("result = %v, want 42", v)
	}
}

func TestQueue_SubmitPropagatesTaskError(t *testing.T) {
	q := New("test", 2, nil)
	defer q.Close()

	wantErr := errors.New("boom")
	job := q.Submit(func() (any, error) { return nil, wantErr })

	_, err := job.Wait(time.Now().Add(time.Second))
	if !errors.Is(err, wantErr) {
		t.Fatalf("Wait err = %v, want %v", err, wantErr)
	}
}

func TestQueue_PanicInTaskBecomesError(t *testing.T) {
	q := New("test", 1, nil)
	defer q.Close()

	job := q.Submit(func() (any, error) { panic("kaboom") })

	_, err := job.Wait(time.Now().Add(time.Second))
	if err == nil {
		t.Fatal("Wait = nil error, want panic converted to an error")
	}
}

func TestQueue_WaitTimesOutBeforeCompletion(t *testing.T) {
	q := New("test", 1, nil)
	defer q.Close()

	release := make(chan struct{})
	job := q.Submit(func() (any, error) {
		<-release
		return nil, nil
	})

	_, err := job.Wait(time.Now().Add(20 * time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait = %v, want ErrTimeout", err)
	}
	close(release)
}

func TestQueue_ManyJobsAllComplete(t *testing.T) {
	q := New("test", 4, nil)
	defer q.Close()

	const n = 50
	jobs := make([]*Job, n)
	for i := 0; i < n; i++ {
		i := i
		jobs[i] = q.Submit(func() (any, error) { return i * 2, nil })
	}
	for i, j := range jobs {
		v, err := j.Wait(time.Now().Add(2 * time.Second))
		if err != nil {
			t.Fatalf("job %d: %v", i, err)
		}
		if v != i*2 {
			t.Fatalf("job %d result = %v, want %d", i, v, i*2)
		}
	}
}
