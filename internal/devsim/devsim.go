// Package devsim simulates a nanoFramework target behind an in-memory
// transport.Port. It answers the monitor and debugging commands the engine
// issues, which makes it useful for exercising the host side without
// hardware.
package devsim

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// Range records one erase or write seen by the device.
type Range struct {
	Address uint32
	Length  uint32
}

// Device is a simulated target. Configure the exported fields before the
// first Connect; inspect the logs after the exchange.
type Device struct {
	Name         string
	Source       uint32
	BigEndian    bool
	CRC32        bool
	TargetName   string
	PlatformName string
	// LegacyIdentity makes the device ignore TargetInfo, answering only OemInfo.
	LegacyIdentity bool
	// Silent drops every request.
	Silent bool
	// SilentFor drops requests for the listed commands.
	SilentFor map[uint32]bool
	// Baud is the only line speed the device answers at; zero accepts all.
	Baud       int
	Sectors    []protocol.FlashSector
	Assemblies []protocol.DeployedAssembly
	Conditions uint32
	Threads    []uint32
	// FailAt makes write or erase at the address report an access error.
	FailAt map[uint32]uint32
	// CorruptReadAt flips a bit in data read back from the address.
	CorruptReadAt map[uint32]bool
	// Noise is sent to the host before the first reply.
	Noise []byte
	// DropOnReboot makes the device vanish from the bus when it reboots,
	// like a USB target re-enumerating.
	DropOnReboot bool
	// ReconnectDelay is how long Connect fails after a reboot drop.
	ReconnectDelay time.Duration

	mu        sync.Mutex
	connected bool
	baud      int
	inbound   []byte
	outbound  []byte
	notify    chan struct{}
	memory    map[uint32]byte
	seq       uint16
	commands  []uint32
	replies   []protocol.Header
	erases    []Range
	writes    []Range
	resolves  int
	connects  int
	droppedAt time.Time
}

var _ transport.Port = (*Device)(nil)
var _ transport.BaudSetter = (*Device)(nil)

// New returns a nanoCLR device with CRC32 support.
func New(name string) *Device {
	return &Device{
		Name:         name,
		Source:       protocol.PingSourceNanoCLR,
		CRC32:        true,
		TargetName:   "SIM_TARGET",
		PlatformName: "SIM",
		notify:       make(chan struct{}, 1),
		memory:       make(map[uint32]byte),
	}
}

func (d *Device) InstanceID() string   { return d.Name }
func (d *Device) Kind() transport.Kind { return transport.KindSerial }

func (d *Device) BaudRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baud
}

func (d *Device) SetBaudRate(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baud = baud
	return nil
}

func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.droppedAt.IsZero() && time.Since(d.droppedAt) < d.ReconnectDelay {
		return transport.ErrNotConnected
	}
	d.connected = true
	d.connects++
	return nil
}

func (d *Device) Disconnect(force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.inbound = nil
	d.outbound = nil
	return nil
}

func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Unplug simulates the device disappearing.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	d.wake()
}

func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Inject queues raw bytes for the host, as if the device sent them.
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	d.outbound = append(d.outbound, b...)
	d.mu.Unlock()
	d.wake()
}

// SendMessage queues a debug text message for the host.
func (d *Device) SendMessage(text string) {
	d.Request(protocol.CmdMessage, &protocol.TextMessage{Text: text})
}

// Request queues a device-initiated command for the host.
func (d *Device) Request(cmd uint32, rec protocol.Record) {
	d.mu.Lock()
	b := d.packet(protocol.Header{Cmd: cmd}, rec, false)
	d.mu.Unlock()
	d.Inject(b)
}

// Replies returns the headers of packets the host sent as replies,
// including NACKs.
func (d *Device) Replies() []protocol.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Header(nil), d.replies...)
}

func (d *Device) Send(ctx context.Context, b []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return 0, transport.ErrNotConnected
	}
	d.inbound = append(d.inbound, b...)
	d.process()
	d.mu.Unlock()
	d.wake()
	return len(b), nil
}

func (d *Device) Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		d.mu.Lock()
		if !d.connected {
			d.mu.Unlock()
			return nil, transport.ErrNotConnected
		}
		if len(d.outbound) > 0 {
			k := min(n, len(d.outbound))
			out := bytes.Clone(d.outbound[:k])
			d.outbound = d.outbound[k:]
			d.mu.Unlock()
			return out, nil
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		case <-d.notify:
		}
	}
}

// Commands returns the command ids received so far.
func (d *Device) Commands() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.commands...)
}

// Count returns how often cmd was received.
func (d *Device) Count(cmd uint32) int {
	n := 0
	for _, c := range d.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Erases returns the erase requests in order.
func (d *Device) Erases() []Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Range(nil), d.erases...)
}

// Writes returns the write requests in order.
func (d *Device) Writes() []Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Range(nil), d.writes...)
}

// Connects counts Connect calls.
func (d *Device) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Memory returns length bytes at address. Unwritten flash reads as 0xFF.
func (d *Device) Memory(address, length uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked(address, length)
}

// SetMemory preloads memory contents.
func (d *Device) SetMemory(address uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		d.memory[address+uint32(i)] = b
	}
}

func (d *Device) readLocked(address, length uint32) []byte {
	out := make([]byte, length)
	for i := range out {
		b, ok := d.memory[address+uint32(i)]
		if !ok {
			b = 0xFF
		}
		out[i] = b
	}
	return out
}

func (d *Device) order() protocol.ByteOrder { return protocol.OrderFor(d.BigEndian) }

// process parses complete packets out of inbound. Called with d.mu held.
func (d *Device) process() {
	for {
		i := bytes.Index(d.inbound, protocol.MarkerPacket[:])
		if i < 0 {
			if len(d.inbound) > protocol.MarkerSize {
				d.inbound = d.inbound[len(d.inbound)-protocol.MarkerSize:]
			}
			return
		}
		d.inbound = d.inbound[i:]
		if len(d.inbound) < protocol.HeaderSize {
			return
		}
		var h protocol.Header
		if err := h.UnmarshalBinary(d.inbound); err != nil || h.VerifyHeader() != nil {
			d.inbound = d.inbound[1:]
			continue
		}
		total := protocol.HeaderSize + int(h.Size)
		if len(d.inbound) < total {
			return
		}
		payload := bytes.Clone(d.inbound[protocol.HeaderSize:total])
		d.inbound = d.inbound[total:]
		if h.IsReply() {
			d.replies = append(d.replies, h)
			continue
		}
		d.commands = append(d.commands, h.Cmd)
		if d.Silent || d.SilentFor[h.Cmd] || (d.Baud != 0 && d.baud != 0 && d.baud != d.Baud) {
			continue
		}
		if len(d.Noise) > 0 {
			d.outbound = append(d.outbound, d.Noise...)
			d.Noise = nil
		}
		d.handle(h, payload)
		if !d.connected {
			d.inbound = nil
			return
		}
	}
}

func (d *Device) packet(req protocol.Header, rec protocol.Record, reply bool) []byte {
	d.seq++
	h := protocol.Header{Marker: protocol.MarkerPacket, Cmd: req.Cmd, Seq: d.seq}
	if reply {
		h.SeqReply = req.Seq
		h.Flags = protocol.FlagReply
	}
	return protocol.Encode(h, protocol.Marshal(rec, d.order()), d.CRC32)
}

func (d *Device) replyWith(req protocol.Header, rec protocol.Record) {
	d.outbound = append(d.outbound, d.packet(req, rec, true)...)
}

// needsPayload lists the requests the device cannot answer without arguments.
var needsPayload = map[uint32]bool{
	protocol.CmdReadMemory:                true,
	protocol.CmdWriteMemory:               true,
	protocol.CmdEraseMemory:               true,
	protocol.CmdCheckMemory:               true,
	protocol.CmdReboot:                    true,
	protocol.CmdQueryCapabilities:         true,
	protocol.CmdExecutionChangeConditions: true,
	protocol.CmdResolveType:               true,
	protocol.CmdResolveAssembly:           true,
	protocol.CmdMessagingQuery:            true,
}

func (d *Device) handle(h protocol.Header, payload []byte) {
	// The host speaks little-endian until the ping tells it otherwise.
	order := d.order()
	if h.Cmd == protocol.CmdPing {
		order = protocol.OrderFor(false)
	}
	rec, err := protocol.Decode(h.Cmd, false, payload, order)
	if err != nil || (rec == nil && needsPayload[h.Cmd]) {
		return
	}

	switch h.Cmd {
	case protocol.CmdPing:
		flags := uint32(0)
		if d.CRC32 {
			flags |= protocol.PingFlagSupportsCRC32
		}
		if d.BigEndian {
			flags |= protocol.PingFlagBigEndian
		}
		d.replyWith(h, &protocol.Ping{Source: d.Source, Flags: flags})

	case protocol.CmdReadMemory:
		r := rec.(*protocol.MemoryRange)
		data := d.readLocked(r.Address, r.Length)
		if d.CorruptReadAt[r.Address] && len(data) > 0 {
			data[0] ^= 0x01
		}
		d.replyWith(h, &protocol.ReadMemoryReply{Data: data})

	case protocol.CmdWriteMemory:
		w := rec.(*protocol.WriteMemory)
		d.writes = append(d.writes, Range{w.Address, uint32(len(w.Data))})
		if code, ok := d.FailAt[w.Address]; ok {
			d.replyWith(h, &protocol.ErrorCodeReply{ErrorCode: code})
			return
		}
		for i, b := range w.Data {
			d.memory[w.Address+uint32(i)] = b
		}
		d.replyWith(h, &protocol.ErrorCodeReply{})

	case protocol.CmdEraseMemory:
		r := rec.(*protocol.MemoryRange)
		d.erases = append(d.erases, Range{r.Address, r.Length})
		if code, ok := d.FailAt[r.Address]; ok {
			d.replyWith(h, &protocol.ErrorCodeReply{ErrorCode: code})
			return
		}
		for i := uint32(0); i < r.Length; i++ {
			delete(d.memory, r.Address+i)
		}
		d.replyWith(h, &protocol.ErrorCodeReply{})

	case protocol.CmdCheckMemory:
		r := rec.(*protocol.MemoryRange)
		d.replyWith(h, &protocol.CheckMemoryReply{CRC: protocol.CRC32(d.readLocked(r.Address, r.Length), 0)})

	case protocol.CmdExecute:
		d.replyWith(h, nil)

	case protocol.CmdReboot:
		r := rec.(*protocol.Reboot)
		switch {
		case r.Flags&protocol.RebootEnterNanoBooter != 0:
			d.Source = protocol.PingSourceNanoBooter
		case r.Flags&protocol.RebootClrOnly != 0, r.Flags == protocol.RebootNormal:
			d.Source = protocol.PingSourceNanoCLR
		}
		if d.DropOnReboot {
			d.connected = false
			d.outbound = nil
			d.droppedAt = time.Now()
		}

	case protocol.CmdFlashSectorMap:
		d.replyWith(h, &protocol.FlashSectorMapReply{Sectors: d.Sectors})

	case protocol.CmdDeploymentMap:
		d.replyWith(h, &protocol.DeploymentMapReply{Assemblies: d.Assemblies})

	case protocol.CmdMemoryMap:
		d.replyWith(h, &protocol.MemoryMapReply{Regions: []protocol.MemoryRegion{
			{Address: 0x20000000, Length: 0x20000, Flags: protocol.MemoryRAM},
			{Address: 0x08000000, Length: 0x100000, Flags: protocol.MemoryFlash},
		}})

	case protocol.CmdTargetInfo:
		if d.LegacyIdentity {
			return
		}
		d.replyWith(h, &protocol.TargetInfoReply{
			CLR:          protocol.ReleaseInfo{Version: protocol.Version{Major: 1, Minor: 12}, Info: "nanoCLR"},
			TargetName:   d.TargetName,
			PlatformName: d.PlatformName,
		})

	case protocol.CmdOemInfo:
		d.replyWith(h, &protocol.OemInfoReply{Release: protocol.ReleaseInfo{
			Version: protocol.Version{Major: 1, Minor: 7},
			Info:    d.TargetName + ", " + d.PlatformName,
		}})

	case protocol.CmdQueryCapabilities:
		if d.Source != protocol.PingSourceNanoCLR {
			return
		}
		d.replyWith(h, &protocol.RawReply{Data: protocol.Marshal(d.capability(rec.(*protocol.QueryCapabilities).Kind), d.order())})

	case protocol.CmdExecutionChangeConditions:
		c := rec.(*protocol.ChangeConditions)
		d.Conditions = (d.Conditions | c.Set) &^ c.Reset
		d.replyWith(h, &protocol.ChangeConditionsReply{Current: d.Conditions})

	case protocol.CmdThreadList:
		d.replyWith(h, &protocol.IndexList{Items: d.Threads})

	case protocol.CmdThreadStack:
		d.replyWith(h, &protocol.ThreadStackReply{Frames: []protocol.StackFrame{{Method: 1, IP: 0x10}}})

	case protocol.CmdThreadKill:
		d.replyWith(h, &protocol.ErrorCodeReply{ErrorCode: 1})

	case protocol.CmdThreadSuspend, protocol.CmdThreadResume:
		d.replyWith(h, nil)

	case protocol.CmdTypeSysAssemblies:
		d.replyWith(h, &protocol.IndexList{Items: []uint32{1, 2}})

	case protocol.CmdResolveType:
		d.resolves++
		idx := rec.(*protocol.ResolveIndex).Index
		d.replyWith(h, &protocol.ResolveTypeReply{Name: fmt.Sprintf("Type%d", idx)})

	case protocol.CmdResolveAssembly:
		d.resolves++
		idx := rec.(*protocol.ResolveIndex).Index
		d.replyWith(h, &protocol.ResolveAssemblyReply{Name: fmt.Sprintf("Assembly%d", idx), Version: protocol.Version{Major: 1}})

	case protocol.CmdQueryConfiguration:
		d.replyWith(h, &protocol.RawReply{Data: protocol.Marshal(&protocol.NetworkConfiguration{
			Marker:             [4]byte{'N', 'I', '1', 0},
			IPv4Address:        0x0101A8C0,
			StartupAddressMode: protocol.AddressModeDHCP,
		}, d.order())})

	case protocol.CmdUpdateConfiguration:
		d.replyWith(h, &protocol.ErrorCodeReply{})

	case protocol.CmdMessagingQuery:
		d.replyWith(h, &protocol.MessagingQueryReply{Found: 1, Address: rec.(*protocol.MessagingQuery).Address})
	}
}

// Resolves counts resolve requests answered.
func (d *Device) Resolves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolves
}

func (d *Device) capability(kind uint32) protocol.Record {
	switch kind {
	case protocol.CapabilityFlags:
		return &protocol.CapabilityFlagsReply{Flags: protocol.CapIncrementalDeployment | protocol.CapHasNanoBooter}
	case protocol.CapabilitySoftwareVersion:
		return &protocol.SoftwareVersion{BuildDate: "Jan 01 2026", CompilerInfo: "GNU ARM GCC", CompilerVersion: 13}
	case protocol.CapabilityHalSystemInfo:
		return &protocol.HalSystemInfo{Release: protocol.ReleaseInfo{Info: "HAL"}}
	case protocol.CapabilityClrInfo:
		return &protocol.ClrInfo{Release: protocol.ReleaseInfo{Version: protocol.Version{Major: 1, Minor: 12}}}
	case protocol.CapabilitySolutionReleaseInfo:
		return &protocol.SolutionReleaseInfo{VendorInfo: "simulator"}
	case protocol.CapabilityNativeAssemblies:
		return &protocol.NativeAssemblies{Assemblies: []protocol.NativeAssembly{{CRC: 1, Name: "mscorlib"}}}
	}
	return &protocol.RawReply{}
}
