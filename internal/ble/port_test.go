package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		target, name, address string
		want                  bool
	}{
		{"ESP32_BLE", "esp32_ble", "AA:BB:CC:DD:EE:FF", true},
		{"aa:bb:cc:dd:ee:ff", "", "AA:BB:CC:DD:EE:FF", true},
		{"ESP32", "ESP32_BLE", "AA:BB:CC:DD:EE:FF", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		if got := matches(tt.target, tt.name, tt.address); got != tt.want {
			t.Errorf("matches(%q, %q, %q) = %v", tt.target, tt.name, tt.address, got)
		}
	}
}

func TestRxBufferRead(t *testing.T) {
	ctx := context.Background()
	rx := newRxBuffer()

	go func() {
		rx.push([]byte{1, 2})
		time.Sleep(5 * time.Millisecond)
		rx.push([]byte{3, 4, 5})
	}()
	got, err := rx.read(ctx, 4, time.Second)
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("read = % X, %v", got, err)
	}

	got, err = rx.read(ctx, 4, 20*time.Millisecond)
	if err != nil || !bytes.Equal(got, []byte{5}) {
		t.Fatalf("short read = % X, %v", got, err)
	}

	got, err = rx.read(ctx, 4, 10*time.Millisecond)
	if err != nil || len(got) != 0 {
		t.Fatalf("idle read = % X, %v", got, err)
	}
}

func TestRxBufferClosed(t *testing.T) {
	rx := newRxBuffer()
	rx.push([]byte{9})
	rx.close()
	rx.push([]byte{10})

	got, err := rx.read(context.Background(), 2, time.Second)
	if !errors.Is(err, transport.ErrNotConnected) || !bytes.Equal(got, []byte{9}) {
		t.Fatalf("read after close = % X, %v", got, err)
	}
}

func TestRxBufferCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rx := newRxBuffer()
	time.AfterFunc(5*time.Millisecond, cancel)
	if _, err := rx.read(ctx, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

type chunkRecorder struct {
	chunks [][]byte
	failAt int
}

func (c *chunkRecorder) WriteWithoutResponse(p []byte) (int, error) {
	if c.failAt > 0 && len(c.chunks) == c.failAt {
		return 0, errors.New("link lost")
	}
	c.chunks = append(c.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriteChunked(t *testing.T) {
	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	w := &chunkRecorder{}
	n, err := writeChunked(context.Background(), w, data, 0)
	if err != nil || n != 600 {
		t.Fatalf("writeChunked = %d, %v", n, err)
	}
	sizes := []int{}
	for _, c := range w.chunks {
		sizes = append(sizes, len(c))
	}
	if len(sizes) != 3 || sizes[0] != chunkSize || sizes[2] != 600-2*chunkSize {
		t.Errorf("chunk sizes = %v", sizes)
	}
	if !bytes.Equal(bytes.Join(w.chunks, nil), data) {
		t.Error("chunks do not reassemble")
	}

	failing := &chunkRecorder{failAt: 1}
	n, err = writeChunked(context.Background(), failing, data, 0)
	if !errors.Is(err, transport.ErrNotConnected) || n != chunkSize {
		t.Errorf("failing write = %d, %v", n, err)
	}
}
