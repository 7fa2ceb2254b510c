package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/devsim"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

const base = 0x08080000

// fakeTarget keeps flash in a map and records every flash call.
type fakeTarget struct {
	source   engine.Source
	sectors  []protocol.FlashSector
	deployed []protocol.DeployedAssembly
	mem      map[uint32]byte
	calls    []string
	failAt   map[string]error
	badCRC   bool
	corrupt  uint32
}

func newFakeTarget(sectors ...protocol.FlashSector) *fakeTarget {
	return &fakeTarget{source: engine.SourceNanoCLR, sectors: sectors, mem: map[uint32]byte{}}
}

func (f *fakeTarget) fail(op string, addr uint32) error {
	return f.failAt[fmt.Sprintf("%s 0x%X", op, addr)]
}

func (f *fakeTarget) Source() engine.Source { return f.source }

func (f *fakeTarget) FlashSectorMap(context.Context) ([]protocol.FlashSector, error) {
	return f.sectors, nil
}

func (f *fakeTarget) DeploymentMap(context.Context) ([]protocol.DeployedAssembly, error) {
	return f.deployed, nil
}

func (f *fakeTarget) EraseMemory(_ context.Context, addr, length uint32) error {
	f.calls = append(f.calls, fmt.Sprintf("erase 0x%X %d", addr, length))
	if err := f.fail("erase", addr); err != nil {
		return err
	}
	for i := uint32(0); i < length; i++ {
		delete(f.mem, addr+i)
	}
	return nil
}

func (f *fakeTarget) WriteMemory(_ context.Context, addr uint32, data []byte) error {
	f.calls = append(f.calls, fmt.Sprintf("write 0x%X %d", addr, len(data)))
	if err := f.fail("write", addr); err != nil {
		return err
	}
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func (f *fakeTarget) read(addr, length uint32) []byte {
	out := make([]byte, length)
	for i := range out {
		b, ok := f.mem[addr+uint32(i)]
		if !ok {
			b = 0xFF
		}
		out[i] = b
	}
	return out
}

func (f *fakeTarget) ReadMemory(_ context.Context, addr, length uint32) ([]byte, error) {
	f.calls = append(f.calls, fmt.Sprintf("read 0x%X %d", addr, length))
	out := f.read(addr, length)
	if f.corrupt >= addr && f.corrupt < addr+length {
		out[f.corrupt-addr] ^= 0x80
	}
	return out, nil
}

func (f *fakeTarget) CheckMemory(_ context.Context, addr, length uint32) (uint32, error) {
	crc := protocol.CRC32(f.read(addr, length), 0)
	if f.badCRC {
		crc++
	}
	return crc, nil
}

func (f *fakeTarget) PauseExecution(context.Context) error {
	f.calls = append(f.calls, "pause")
	return nil
}

func (f *fakeTarget) ConnectToNanoBooter(context.Context) error {
	f.calls = append(f.calls, "booter")
	f.source = engine.SourceNanoBooter
	return nil
}

func (f *fakeTarget) Reboot(_ context.Context, options uint32) error {
	f.calls = append(f.calls, fmt.Sprintf("reboot %d", options))
	return nil
}

func (f *fakeTarget) flashCalls() []string {
	var out []string
	for _, c := range f.calls {
		if c[0] == 'e' || c[0] == 'w' {
			out = append(out, c)
		}
	}
	return out
}

func deploymentSector(blocks, size uint32) protocol.FlashSector {
	return protocol.FlashSector{StartAddress: base, NumBlocks: blocks, BytesPerBlock: size, Flags: protocol.BlockUsageDeployment}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestDeployPacksIntoLeadingBlocks(t *testing.T) {
	ft := newFakeTarget(
		protocol.FlashSector{StartAddress: 0x08000000, NumBlocks: 8, BytesPerBlock: 0x4000, Flags: protocol.BlockUsageCode},
		deploymentSector(4, 4096),
	)
	img := pattern(10000, 3)
	var phases []string
	d := New(ft, WithProgress(func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	}))

	res, err := d.Deploy(context.Background(), [][]byte{img})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := []string{
		"erase 0x8080000 4096", "write 0x8080000 4096",
		"erase 0x8081000 4096", "write 0x8081000 4096",
		"erase 0x8082000 4096", "write 0x8082000 1808",
	}
	if got := ft.flashCalls(); !reflect.DeepEqual(got, want) {
		t.Errorf("flash calls = %q, want %q", got, want)
	}
	if ft.calls[0] != "pause" {
		t.Errorf("first call = %q, want pause", ft.calls[0])
	}
	if !bytes.Equal(ft.read(base, 10000), img) {
		t.Error("flash content differs from image")
	}
	if len(res.Blocks) != 3 || res.Bytes != 10000 {
		t.Errorf("result = %+v", res)
	}
	wantPhases := []string{PhasePreparing, PhaseErasing, PhaseWriting, PhaseErasing, PhaseWriting,
		PhaseErasing, PhaseWriting, PhaseVerifying, PhaseComplete}
	if !reflect.DeepEqual(phases, wantPhases) {
		t.Errorf("phases = %v, want %v", phases, wantPhases)
	}
}

func TestDeployCapacity(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"exact fit", 16384, false},
		{"one word over", 16388, true},
		{"empty", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTarget(deploymentSector(4, 4096))
			_, err := New(ft, WithVerify(false)).Deploy(context.Background(), [][]byte{make([]byte, tt.size)})
			var ce *CapacityError
			if got := errors.As(err, &ce); got != tt.wantErr {
				t.Fatalf("err = %v, want capacity error %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if ce.Need != 16388 || ce.Available != 16384 {
					t.Errorf("capacity error = %+v", ce)
				}
				if len(ft.flashCalls()) != 0 {
					t.Errorf("flash touched: %v", ft.flashCalls())
				}
			}
		})
	}
}

func TestDeployRejectsMisalignedImage(t *testing.T) {
	ft := newFakeTarget(deploymentSector(4, 4096))
	_, err := New(ft).Deploy(context.Background(), [][]byte{make([]byte, 8), make([]byte, 10)})
	if !errors.Is(err, ErrNotWordAligned) {
		t.Fatalf("err = %v, want ErrNotWordAligned", err)
	}
	if len(ft.calls) != 0 {
		t.Errorf("target touched: %v", ft.calls)
	}
}

func TestDeployNoRegion(t *testing.T) {
	ft := newFakeTarget(protocol.FlashSector{StartAddress: 0, NumBlocks: 1, BytesPerBlock: 4096, Flags: protocol.BlockUsageConfig})
	if _, err := New(ft).Deploy(context.Background(), [][]byte{make([]byte, 4)}); !errors.Is(err, ErrNoDeploymentRegion) {
		t.Fatalf("err = %v, want ErrNoDeploymentRegion", err)
	}
}

func TestDeployStopsAtFirstFailure(t *testing.T) {
	ft := newFakeTarget(deploymentSector(4, 4096))
	cause := &engine.DeviceError{Op: "write", Address: base + 4096, Code: protocol.AccessMemoryErrorWrite}
	ft.failAt = map[string]error{fmt.Sprintf("write 0x%X", base+4096): cause}

	_, err := New(ft).Deploy(context.Background(), [][]byte{pattern(12288, 1)})
	var fe *FlashError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FlashError", err)
	}
	if fe.Op != "write" || fe.Address != base+4096 || !fe.DeviceRejected() {
		t.Errorf("flash error = %+v", fe)
	}
	if n := len(ft.flashCalls()); n != 4 {
		t.Errorf("flash calls = %v, want stop after the failing write", ft.flashCalls())
	}
}

func TestDeployVerifyMismatch(t *testing.T) {
	ft := newFakeTarget(deploymentSector(2, 4096))
	ft.badCRC = true
	ft.corrupt = base + 4100
	img := pattern(8192, 9)

	_, err := New(ft).Deploy(context.Background(), [][]byte{img})
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want VerifyError", err)
	}
	if ve.Address != base+4100 || ve.Offset != 4 || ve.Want != img[4100] || ve.Got != img[4100]^0x80 {
		t.Errorf("verify error = %+v", ve)
	}
}

func TestDeployVerifySkipsReadWhenCRCMatches(t *testing.T) {
	ft := newFakeTarget(deploymentSector(2, 4096))
	if _, err := New(ft).Deploy(context.Background(), [][]byte{pattern(6000, 2)}); err != nil {
		t.Fatal(err)
	}
	for _, c := range ft.calls {
		if strings.HasPrefix(c, "read") {
			t.Errorf("unexpected read back: %q", c)
		}
	}
}

func TestDeployFirmwareAndReboot(t *testing.T) {
	ft := newFakeTarget(
		protocol.FlashSector{StartAddress: 0x08000000, NumBlocks: 2, BytesPerBlock: 0x4000, Flags: protocol.BlockUsageCode},
		deploymentSector(4, 4096),
	)
	_, err := New(ft, WithFirmware(true), WithReboot(true), WithVerify(false)).
		Deploy(context.Background(), [][]byte{make([]byte, 0x5000)})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"booter",
		"erase 0x8000000 16384", "write 0x8000000 16384",
		"erase 0x8004000 16384", "write 0x8004000 4096",
		fmt.Sprintf("reboot %d", protocol.RebootClrOnly),
	}
	if !reflect.DeepEqual(ft.calls, want) {
		t.Errorf("calls = %q, want %q", ft.calls, want)
	}
}

func TestDeployFullAppendsAfterDeployed(t *testing.T) {
	ft := newFakeTarget(deploymentSector(4, 4096))
	ft.deployed = []protocol.DeployedAssembly{{Address: base, Size: 5000}}
	img := pattern(3000, 5)

	_, err := New(ft, WithStrategy(Full)).Deploy(context.Background(), [][]byte{img})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"erase 0x8082000 8192", "write 0x8082000 3008"}
	if got := ft.flashCalls(); !reflect.DeepEqual(got, want) {
		t.Errorf("flash calls = %q, want %q", got, want)
	}
	if got := ft.read(base+0x2000+3000, TerminatorSize); !bytes.Equal(got, make([]byte, TerminatorSize)) {
		t.Errorf("terminator = % X", got)
	}
}

func TestDeployFullErasesSpanOnce(t *testing.T) {
	tests := []struct {
		name     string
		deployed []protocol.DeployedAssembly
		images   [][]byte
		want     []string
	}{
		{
			name:   "empty region",
			images: [][]byte{pattern(5000, 1)},
			want:   []string{"erase 0x8080000 16384", "write 0x8080000 4096", "write 0x8081000 912"},
		},
		{
			name:     "after one block",
			deployed: []protocol.DeployedAssembly{{Address: base, Size: 100}},
			images:   [][]byte{pattern(100, 2), pattern(200, 3)},
			want:     []string{"erase 0x8081000 12288", "write 0x8081000 308"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTarget(deploymentSector(4, 4096))
			ft.deployed = tt.deployed
			if _, err := New(ft, WithStrategy(Full)).Deploy(context.Background(), tt.images); err != nil {
				t.Fatal(err)
			}
			if got := ft.flashCalls(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("flash calls = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeployFullCapacityCountsTerminator(t *testing.T) {
	ft := newFakeTarget(deploymentSector(2, 4096))
	_, err := New(ft, WithStrategy(Full)).Deploy(context.Background(), [][]byte{make([]byte, 8192)})
	var ce *CapacityError
	if !errors.As(err, &ce) || ce.Need != 8200 {
		t.Fatalf("err = %v, want capacity error for 8200 bytes", err)
	}
}

func TestPlanIncrementalDeterministic(t *testing.T) {
	blocks := []Block{{0, 4096}, {4096, 4096}, {8192, 8192}}
	images := [][]byte{pattern(3000, 1), pattern(3000, 2), pattern(5000, 3)}

	first, err := PlanIncremental(blocks, images)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := PlanIncremental(blocks, images)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatal("plans differ between runs")
		}
	}

	sizes := []int{}
	for _, p := range first.Placements {
		sizes = append(sizes, len(p.Data))
	}
	if want := []int{4096, 4096, 2808}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("placement sizes = %v, want %v", sizes, want)
	}
	if first.Used != 11000 || first.Capacity != 16384 {
		t.Errorf("used/capacity = %d/%d", first.Used, first.Capacity)
	}
}

func TestDeployWithEngine(t *testing.T) {
	dev := devsim.New("sim0")
	dev.Sectors = []protocol.FlashSector{deploymentSector(4, 4096)}
	e := engine.New(dev, engine.WithTimeout(500*time.Millisecond), engine.WithRetries(1),
		engine.WithRebootSettle(10*time.Millisecond))
	t.Cleanup(func() { _ = e.Dispose() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Connect(ctx, engine.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	img := pattern(10000, 4)
	if _, err := New(e, WithReboot(true)).Deploy(ctx, [][]byte{img}); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !bytes.Equal(dev.Memory(base, 10000), img) {
		t.Error("device memory differs from image")
	}
	erases := dev.Erases()
	if len(erases) != 3 || erases[2].Address != base+8192 {
		t.Errorf("erases = %+v", erases)
	}
	if dev.Count(protocol.CmdReboot) != 1 {
		t.Errorf("reboots = %d", dev.Count(protocol.CmdReboot))
	}
}

func TestDeployWithEngineReportsDeviceRejection(t *testing.T) {
	dev := devsim.New("sim0")
	dev.Sectors = []protocol.FlashSector{deploymentSector(4, 4096)}
	dev.FailAt = map[uint32]uint32{base + 4096: protocol.AccessMemoryErrorErase}
	e := engine.New(dev, engine.WithTimeout(500*time.Millisecond), engine.WithRetries(1))
	t.Cleanup(func() { _ = e.Dispose() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Connect(ctx, engine.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := New(e).Deploy(ctx, [][]byte{pattern(8192, 6)})
	var fe *FlashError
	if !errors.As(err, &fe) || fe.Op != "erase" || fe.Address != base+4096 || !fe.DeviceRejected() {
		t.Fatalf("err = %v, want rejected erase at second block", err)
	}
	if n := len(dev.Writes()); n != 4 {
		t.Errorf("writes = %d, want the first block only", n)
	}
}
