package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "COM3", want: Address{Kind: KindSerial, Target: "COM3"}},
		{in: "/dev/ttyACM0", want: Address{Kind: KindSerial, Target: "/dev/ttyACM0"}},
		{in: "tcp://192.168.1.20:26000", want: Address{Kind: KindTCP, Target: "192.168.1.20:26000"}},
		{in: "tcp://esp32.local", want: Address{Kind: KindTCP, Target: "esp32.local:26000"}},
		{in: "ble://nanoDevice", want: Address{Kind: KindBLE, Target: "nanoDevice"}},
		{in: "", wantErr: true},
		{in: "ble://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) succeeded", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPortInfoFilters(t *testing.T) {
	usb := PortInfo{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "5740"}
	if got := usb.USBID(); got != "0483:5740" {
		t.Errorf("USBID() = %q", got)
	}
	if (PortInfo{Name: "/dev/ttyS0"}).USBID() != "" {
		t.Error("non-USB port has a USB id")
	}
	if !(PortInfo{Name: "/dev/rfcomm0"}).LooksLikeBluetooth() {
		t.Error("rfcomm port not flagged as bluetooth")
	}
	if usb.LooksLikeBluetooth() {
		t.Error("USB CDC port flagged as bluetooth")
	}
}

func TestTCPPortReadShortOnTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Write([]byte("abc"))
		time.Sleep(500 * time.Millisecond)
		c.Close()
	}()

	p := NewTCPPort(ln.Addr().String(), zerolog.Nop())
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Disconnect(true)

	got, err := p.Read(context.Background(), 10, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Read() = %q, want %q", got, "abc")
	}

	_, err = p.Read(context.Background(), 10, 2*time.Second)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read after close = %v, want ErrNotConnected", err)
	}
	if p.IsConnected() {
		t.Error("IsConnected() = true after peer closed")
	}
}

func TestTCPPortReadCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err == nil {
			time.Sleep(time.Second)
			c.Close()
		}
	}()

	p := NewTCPPort(ln.Addr().String(), zerolog.Nop())
	if err := p.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Disconnect(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Read(ctx, 4, 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want deadline exceeded", err)
	}
}

func TestSendWithoutConnect(t *testing.T) {
	p := NewSerialPort("/dev/does-not-exist", 0, zerolog.Nop())
	if _, err := p.Send(context.Background(), []byte{1}, time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() = %v, want ErrNotConnected", err)
	}
	if p.BaudRate() != DefaultBaudRate {
		t.Errorf("BaudRate() = %d", p.BaudRate())
	}
}
