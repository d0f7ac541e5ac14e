package callbacks

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestRegistry_RunsInRegistrationOrder(t *testing.T) {
	r := New(nil)
	var order []int
	r.AtStartup(func() error { order = append(order, 1); return nil })
	r.AtStartup(func() error { order = append(order, 2); return nil })
	r.AtStartup(func() error { order = append(order, 3); return nil })

	r.RunStartup()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestRegistry_ListsAreIndependent(t *testing.T) {
	r := New(nil)
	var ran []string
	r.AtPreStartup(func() error { ran = append(ran, "pre"); return nil })
	r.AtReady(func() error { ran = append(ran, "ready"); return nil })
	r.AtShutdown(func() error { ran = append(ran, "shutdown"); return nil })
	r.AtExit(func() error { ran = append(ran, "exit"); return nil })

	r.RunStartup()
	if len(ran) != 0 {
		t.Fatalf("RunStartup ran unrelated callbacks: %v", ran)
	}

	r.RunPreStartup()
	r.RunReady()
	r.RunShutdown()
	r.RunExit()

	want := []string{"pre", "ready", "shutdown", "exit"}
	for i, w := range want {
		if ran[i] != w {
			t.Fatalf("ran = %v, want %v", ran, want)
		}
	}
}

func TestRegistry_ErrorDoesNotStopRemainingCallbacks(t *testing.T) {
	r := New(nil)
	var ranAfterError bool
	r.AtShutdown(func() error { return errors.New("boom") })
	r.AtShutdown(func() error { ranAfterError = true; return nil })

	r.RunShutdown()

	if !ranAfterError {
		t.Fatal("a failing callback must not prevent later callbacks from running")
	}
}

func TestRegistry_ListenSignalsInvokesCallback(t *testing.T) {
	r := New(nil)
	received := make(chan os.Signal, 1)
	r.AtSignal(func(s os.Signal) error {
		received <- s
		return nil
	})

	stop := r.ListenSignals(syscall.SIGUSR1)
	defer stop()

	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := p.Signal(syscall.SIGUSR1); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	select {
	case s := <-received:
		if s != syscall.SIGUSR1 {
			t.Fatalf("received %v, want SIGUSR1", s)
		}
	case <-time.After(time.Second):
		t.Fatal("signal callback was not invoked in time")
	}
}
