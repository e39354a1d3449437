package readingproc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStdinManagerLifecycle(t *testing.T) {
	m := NewStdinManager()
	if m.Alive() {
		t.Fatal("manager alive before start")
	}
	if err := m.Send(New("cat"), []byte("x")); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("send before start = %v, want ErrManagerStopped", err)
	}
	if err := m.Stop(context.Background()); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("stop before start = %v, want ErrManagerStopped", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrManagerStarted) {
		t.Fatalf("second start = %v, want ErrManagerStarted", err)
	}
	if !m.Alive() {
		t.Fatal("manager not alive after start")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m.Alive() {
		t.Fatal("manager alive after stop")
	}

	// A stopped manager can be started again.
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop after restart: %v", err)
	}
}

func TestStdinManagerDelivery(t *testing.T) {
	requireUnix(t)

	m := NewStdinManager()
	if err := m.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer m.Stop(context.Background())

	p := New("cat")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Send(p, []byte("via manager\n")); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return m.QueueSize() == 0 }, "queue to drain")
	if err := p.CloseStdin(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}
	stdout, _ := collectAll(t, p)
	if got := string(stdout); got != "via manager\n" {
		t.Fatalf("stdout = %q, want %q", got, "via manager\n")
	}
}

func TestStdinManagerSurvivesDeliveryFailure(t *testing.T) {
	requireUnix(t)

	m := NewStdinManager()
	if err := m.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer m.Stop(context.Background())

	// Delivery to an unstarted handle fails inside the worker; the manager
	// logs and keeps serving other handles.
	if err := m.Send(New("cat"), []byte("dropped")); err != nil {
		t.Fatalf("send to unstarted handle: %v", err)
	}

	p := New("cat")
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Send(p, []byte("still working\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return m.QueueSize() == 0 }, "queue to drain")
	if err := p.CloseStdin(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}
	stdout, _ := collectAll(t, p)
	if got := string(stdout); got != "still working\n" {
		t.Fatalf("stdout = %q, want %q", got, "still working\n")
	}
}

func TestStdinManagerQueueFull(t *testing.T) {
	m := NewStdinManager(StdinQueueLength(1))
	if err := m.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer m.Stop(context.Background())

	// An unstarted handle never drains quickly enough to matter here; the
	// point is only that enqueueing never blocks.
	p := New("cat")
	var sawFull bool
	for i := 0; i < 50; i++ {
		if err := m.Send(p, []byte("x")); errors.Is(err, ErrStdinQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("never observed ErrStdinQueueFull on a length-1 queue")
	}
}
