package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

func TestPendingStoreKeys(t *testing.T) {
	s := newPendingStore(time.Minute)
	pr, err := s.add(protocol.CmdPing, 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.add(protocol.CmdPing, 7, nil); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("duplicate add = %v, want ErrDuplicateRequest", err)
	}
	if _, err := s.add(protocol.CmdReadMemory, 7, nil); err != nil {
		t.Fatalf("same seq, other command: %v", err)
	}

	msg := &protocol.Message{}
	if !s.complete(protocol.CmdPing, 7, msg) {
		t.Fatal("complete found no request")
	}
	if s.complete(protocol.CmdPing, 7, msg) {
		t.Fatal("second complete delivered twice")
	}
	if res := <-pr.done; res.msg != msg {
		t.Fatalf("delivered %v", res)
	}
	if s.len() != 1 {
		t.Fatalf("len = %d, want 1", s.len())
	}
}

func TestPendingStoreSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newPendingStore(20 * time.Second)
	s.now = func() time.Time { return now }

	old, _ := s.add(protocol.CmdPing, 1, nil)
	cancel := make(chan struct{})
	cancelled, _ := s.add(protocol.CmdPing, 2, cancel)

	if n := s.sweep(); n != 0 {
		t.Fatalf("sweep dropped %d fresh requests", n)
	}
	close(cancel)
	if n := s.sweep(); n != 1 {
		t.Fatalf("sweep dropped %d, want the cancelled one", n)
	}
	if res := <-cancelled.done; !errors.Is(res.err, ErrRequestExpired) {
		t.Fatalf("cancelled result = %v", res.err)
	}

	now = now.Add(21 * time.Second)
	fresh, _ := s.add(protocol.CmdPing, 3, nil)
	if n := s.sweep(); n != 1 {
		t.Fatalf("sweep dropped %d, want the expired one", n)
	}
	if res := <-old.done; !errors.Is(res.err, ErrRequestExpired) {
		t.Fatalf("expired result = %v", res.err)
	}

	s.failAll(errors.New("gone"))
	if res := <-fresh.done; res.err == nil {
		t.Fatal("failAll delivered no error")
	}
	if s.len() != 0 {
		t.Fatalf("len = %d after failAll", s.len())
	}
}
