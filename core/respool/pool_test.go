package respool

import (
	"errors"
	"testing"
	"time"
)

func intFactory() Factory[int] {
	n := 0
	return func() (int, error) {
		n++
		return n, nil
	}
}

func TestPool_GetPutRoundTrip(t *testing.T) {
	p, err := New("test", "", Config{NHandles: 2}, intFactory(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}

	got, err := p.Get("owner1", 1, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d handles, want 1", len(got))
	}
	if p.Len() != 1 {
		t.Fatalf("Len after Get = %d, want 1", p.Len())
	}

	p.Put("owner1", got[0])
	if p.Len() != 2 {
		t.Fatalf("Len after Put = %d, want 2", p.Len())
	}
}

func TestPool_GetTimesOutWhenExhausted(t *testing.T) {
	p, err := New("test", "", Config{NHandles: 1}, intFactory(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Get(nil, 1, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = got

	_, err = p.Get(nil, 1, time.Now().Add(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Get = %v, want ErrTimeout", err)
	}
}

func TestPool_GetRejectsCountAboveCapacity(t *testing.T) {
	p, err := New("test", "", Config{NHandles: 1}, intFactory(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Get(nil, 2, time.Now().Add(time.Second))
	if !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("Get = %v, want ErrInvalidCount", err)
	}
}

func TestPool_GetRejectsDoubleOwnership(t *testing.T) {
	p, err := New("test", "", Config{NHandles: 2}, intFactory(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	owner := "same-owner"
	if _, err := p.Get(owner, 1, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	_, err = p.Get(owner, 1, time.Now().Add(time.Second))
	if !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("second Get = %v, want ErrAlreadyOwned", err)
	}
}

func TestPool_BounceMarksFreeHandlesStale(t *testing.T) {
	var closed []int
	p, err := New("test", "", Config{NHandles: 1}, intFactory(), func(h int) {
		closed = append(closed, h)
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Get(nil, 1, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h := got[0]

	p.Bounce()
	p.Put(nil, h)

	if len(closed) != 1 {
		t.Fatalf("closed = %v, want exactly one handle closed after Bounce", closed)
	}
}

func TestPool_CloseClosesEveryFreeHandle(t *testing.T) {
	var closed []int
	p, err := New("test", "", Config{NHandles: 3}, intFactory(), func(h int) {
		closed = append(closed, h)
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.Close()

	if len(closed) != 3 {
		t.Fatalf("closed = %v, want all 3 free handles closed", closed)
	}
	if p.Len() != 0 {
		t.Fatalf("Len after Close = %d, want 0", p.Len())
	}
}

func TestPool_PutAfterCloseClosesRatherThanRecycles(t *testing.T) {
	var closed []int
	p, err := New("test", "", Config{NHandles: 1}, intFactory(), func(h int) {
		closed = append(closed, h)
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Get(nil, 1, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h := got[0]

	p.Close()
	if len(closed) != 0 {
		t.Fatalf("closed = %v, want 0 (handle still checked out)", closed)
	}

	p.Put(nil, h)
	if len(closed) != 1 {
		t.Fatalf("closed = %v, want the returned handle closed after pool Close", closed)
	}
	if p.Len() != 0 {
		t.Fatalf("Len after Put-after-Close = %d, want 0 (not recycled)", p.Len())
	}
}

func TestPool_SweepEvictsIdleStaleHandles(t *testing.T) {
	var closed []int
	p, err := New("test", "", Config{NHandles: 1, MaxIdle: time.Millisecond}, intFactory(), func(h int) {
		closed = append(closed, h)
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	if len(closed) != 1 {
		t.Fatalf("closed = %v, want the idle handle evicted by Sweep", closed)
	}
	if p.Len() != 1 {
		t.Fatalf("Len after Sweep = %d, want replacement handle still present", p.Len())
	}
}
