package exclusive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	r, err := NewRegistry(WithDir(dir), WithRepollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNestedAcquireReleasesOnLastGuard(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	outer, ctx, err := r.Acquire(context.Background(), "COM3", time.Second)
	if err != nil {
		t.Fatalf("outer Acquire: %v", err)
	}
	inner, _, err := r.Acquire(ctx, "COM3", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("nested Acquire: %v", err)
	}

	inner.Release()
	if !r.Held("COM3") {
		t.Fatal("key released after inner guard")
	}
	if _, _, err := r.Acquire(context.Background(), "COM3", 50*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("unrelated Acquire while held = %v, want ErrTimeout", err)
	}

	outer.Release()
	if r.Held("COM3") {
		t.Fatal("key still held after outer guard")
	}
	g, _, err := r.Acquire(context.Background(), "COM3", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	g.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	outer, ctx, err := r.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	inner, _, err := r.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	inner.Release()
	inner.Release()
	if !r.Held("k") {
		t.Fatal("double release of inner guard freed the key")
	}
	outer.Release()
	if r.Held("k") {
		t.Fatal("key still held")
	}
}

func TestStaleContextDoesNotReenter(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	g, ctx, err := r.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	g.Release()

	g2, _, err := r.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire with stale ctx: %v", err)
	}
	defer g2.Release()
	if !r.Held("k") {
		t.Fatal("fresh acquisition not recorded")
	}
}

func TestWaiterWokenOnRelease(t *testing.T) {
	r, err := NewRegistry(WithDir(t.TempDir()), WithRepollInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	g, _, err := r.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		g2, _, err := r.Acquire(context.Background(), "k", 5*time.Second)
		if err == nil {
			g2.Release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	g.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by release")
	}
}

func TestAcquireCancelled(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	g, _, err := r.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if _, _, err := r.Acquire(ctx, "k", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() = %v, want context.Canceled", err)
	}
}
