//go:build unix

package exclusive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSeparateRegistriesExcludeEachOther(t *testing.T) {
	dir := t.TempDir()
	a := newTestRegistry(t, dir)
	b := newTestRegistry(t, dir)

	g, _, err := a.Acquire(context.Background(), "/dev/ttyACM0", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = b.Acquire(context.Background(), "/dev/ttyACM0", 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second registry Acquire = %v, want ErrTimeout", err)
	}

	g.Release()
	g2, _, err := b.Acquire(context.Background(), "/dev/ttyACM0", time.Second)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	g2.Release()
}
