package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
	"github.com/nanoframework/nf-debugger-sub001/internal/devsim"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/firmware"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

const deployBase = 0x080C0000

func connected(t *testing.T) (*engine.Engine, *devsim.Device, context.Context) {
	t.Helper()
	dev := devsim.New("sim0")
	dev.Sectors = []protocol.FlashSector{
		{StartAddress: 0x08000000, NumBlocks: 4, BytesPerBlock: 0x10000, Flags: protocol.BlockUsageCode},
		{StartAddress: deployBase, NumBlocks: 4, BytesPerBlock: 0x1000, Flags: protocol.BlockUsageDeployment},
	}
	dev.Threads = []uint32{1, 7}
	e := engine.New(dev, engine.WithTimeout(500*time.Millisecond), engine.WithRetries(1),
		engine.WithRebootSettle(10*time.Millisecond))
	t.Cleanup(func() { _ = e.Dispose() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	if err := e.Connect(ctx, engine.ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return e, dev, ctx
}

func TestInfo(t *testing.T) {
	e, _, ctx := connected(t)

	var buf bytes.Buffer
	if err := Info(ctx, &buf, e, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"SIM_TARGET (SIM)", "nanoCLR", "little-endian", "mscorlib"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := Info(ctx, &buf, e, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"target": "SIM_TARGET"`) {
		t.Errorf("json output:\n%s", buf.String())
	}
}

func TestFlashMap(t *testing.T) {
	e, _, ctx := connected(t)
	var buf bytes.Buffer
	if err := FlashMap(ctx, &buf, e); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("flash map:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[2], "0x080C0000  0x080C4000") || !strings.Contains(lines[2], "16 KiB") {
		t.Errorf("deployment row = %q", lines[2])
	}
}

func TestReadMemory(t *testing.T) {
	e, dev, ctx := connected(t)
	dev.SetMemory(0x20000000, []byte("hello nanoFramework"))

	var buf bytes.Buffer
	if err := ReadMemory(ctx, &buf, e, 0x20000000, 19, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "|hello nanoFramew|") {
		t.Errorf("dump:\n%s", buf.String())
	}

	out := filepath.Join(t.TempDir(), "dump.bin")
	buf.Reset()
	if err := ReadMemory(ctx, &buf, e, 0x20000000, 5, out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Saved 5 B") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestThreadsAndExecution(t *testing.T) {
	e, _, ctx := connected(t)
	var buf bytes.Buffer
	if err := Threads(ctx, &buf, e, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Thread 7") || !strings.Contains(buf.String(), "method 0x00000001") {
		t.Errorf("threads:\n%s", buf.String())
	}

	buf.Reset()
	if err := ExecPause(ctx, &buf, e); err != nil {
		t.Fatal(err)
	}
	if err := ExecState(ctx, &buf, e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "0x80000000") {
		t.Errorf("state after pause:\n%s", buf.String())
	}
}

func TestConfigGetNetwork(t *testing.T) {
	e, _, ctx := connected(t)
	var buf bytes.Buffer
	if err := ConfigGet(ctx, &buf, e, "network", 0); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "192.168.1.1") || !strings.Contains(buf.String(), "DHCP") {
		t.Errorf("network config:\n%s", buf.String())
	}
	if err := ConfigGet(ctx, &buf, e, "bogus", 0); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestDeployRecordsImage(t *testing.T) {
	e, dev, ctx := connected(t)
	cache, err := firmware.NewCacheAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	img := &firmware.Image{Name: "App", Data: bytes.Repeat([]byte{0x5A, 0xA5, 0x00, 0x01}, 1500)}

	var buf, progress bytes.Buffer
	res, err := Deploy(ctx, &buf, e, []*firmware.Image{img}, cache, deploy.WithProgress(ProgressPrinter(&progress)))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Blocks) != 2 || !bytes.Equal(dev.Memory(deployBase, 6000), img.Data) {
		t.Errorf("result = %+v", res)
	}
	entries, _ := cache.List()
	if len(entries) != 1 || entries[0].Target != "SIM_TARGET" {
		t.Errorf("image cache = %+v", entries)
	}
	p := progress.String()
	if !strings.Contains(p, "writing   block 2/2") || !strings.Contains(p, "complete") {
		t.Errorf("progress:\n%s", p)
	}

	buf.Reset()
	if err := ListImages(&buf, cache); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), firmware.ShortHash(entries[0].Hash)) {
		t.Errorf("image list:\n%s", buf.String())
	}
}

func TestDecode(t *testing.T) {
	ping := protocol.Encode(protocol.Header{Marker: protocol.MarkerPacket, Cmd: protocol.CmdPing, Seq: 4},
		protocol.Marshal(&protocol.Ping{Source: protocol.PingSourceNanoBooter}, protocol.OrderFor(false)), true)
	data := append([]byte("hi"), ping...)

	var buf bytes.Buffer
	if err := Decode(&buf, data, false, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `2 byte(s) outside packets: "hi"`) || !strings.Contains(out, "seq=4") {
		t.Errorf("decode:\n%s", out)
	}

	if err := Decode(&buf, []byte("just text"), false, zerolog.Nop()); err == nil {
		t.Error("text without packets decoded")
	}
}

func TestParseUint32(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"4096", 4096, false},
		{"0x080C0000", 0x080C0000, false},
		{"0x0800_0000", 0x08000000, false},
		{"0x100000000", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseUint32(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseUint32(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestConfirmAction(t *testing.T) {
	var out bytes.Buffer
	if !ConfirmAction(strings.NewReader("yes\n"), &out, "erase? ") || out.String() != "erase? " {
		t.Error("yes not accepted")
	}
	if ConfirmAction(strings.NewReader("y\n"), &out, "") {
		t.Error("y accepted")
	}
}
