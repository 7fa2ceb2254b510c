package protocol

import "fmt"

// Ping is sent by either side. The source tells who is answering; the reply
// flags advertise the target's byte order and CRC32 support.
type Ping struct {
	Source uint32
	Flags  uint32
}

func (p *Ping) MarshalWire(w *Writer) {
	w.U32(p.Source)
	w.U32(p.Flags)
}

func (p *Ping) UnmarshalWire(r *Reader) {
	p.Source = r.U32()
	p.Flags = r.U32()
}

// TextMessage is debug output printed by the target.
type TextMessage struct {
	Text string
}

func (m *TextMessage) MarshalWire(w *Writer) { w.Raw([]byte(m.Text)) }

func (m *TextMessage) UnmarshalWire(r *Reader) { m.Text = string(r.Rest()) }

// MemoryRange is the request shape for ReadMemory, CheckMemory and EraseMemory.
type MemoryRange struct {
	Address uint32
	Length  uint32
}

func (m *MemoryRange) MarshalWire(w *Writer) {
	w.U32(m.Address)
	w.U32(m.Length)
}

func (m *MemoryRange) UnmarshalWire(r *Reader) {
	m.Address = r.U32()
	m.Length = r.U32()
}

// ReadMemoryReply carries the memory access result followed by the data read.
type ReadMemoryReply struct {
	ErrorCode uint32
	Data      []byte
}

func (m *ReadMemoryReply) MarshalWire(w *Writer) {
	w.U32(m.ErrorCode)
	w.Raw(m.Data)
}

func (m *ReadMemoryReply) UnmarshalWire(r *Reader) {
	m.ErrorCode = r.U32()
	m.Data = r.Rest()
}

// WriteMemory writes Data at Address.
type WriteMemory struct {
	Address uint32
	Data    []byte
}

func (m *WriteMemory) MarshalWire(w *Writer) {
	w.U32(m.Address)
	w.U32(uint32(len(m.Data)))
	w.Raw(m.Data)
}

func (m *WriteMemory) UnmarshalWire(r *Reader) {
	m.Address = r.U32()
	n := r.U32()
	m.Data = r.Raw(int(n))
}

// ErrorCodeReply is the reply of commands that only report a status code.
type ErrorCodeReply struct {
	ErrorCode uint32
}

func (m *ErrorCodeReply) MarshalWire(w *Writer)   { w.U32(m.ErrorCode) }
func (m *ErrorCodeReply) UnmarshalWire(r *Reader) { m.ErrorCode = r.U32() }

// CheckMemoryReply holds the target-side CRC32 of the checked range.
type CheckMemoryReply struct {
	CRC uint32
}

func (m *CheckMemoryReply) MarshalWire(w *Writer)   { w.U32(m.CRC) }
func (m *CheckMemoryReply) UnmarshalWire(r *Reader) { m.CRC = r.U32() }

// Execute jumps to Address.
type Execute struct {
	Address uint32
}

func (m *Execute) MarshalWire(w *Writer)   { w.U32(m.Address) }
func (m *Execute) UnmarshalWire(r *Reader) { m.Address = r.U32() }

// Reboot carries a combination of the Reboot* options.
type Reboot struct {
	Flags uint32
}

func (m *Reboot) MarshalWire(w *Writer)   { w.U32(m.Flags) }
func (m *Reboot) UnmarshalWire(r *Reader) { m.Flags = r.U32() }

// Memory region kinds in a MemoryMapReply.
const (
	MemoryRAM   uint32 = 0x00000001
	MemoryFlash uint32 = 0x00000002
)

// MemoryRegion is one entry of the target memory map.
type MemoryRegion struct {
	Address uint32
	Length  uint32
	Flags   uint32
}

type MemoryMapReply struct {
	Regions []MemoryRegion
}

func (m *MemoryMapReply) MarshalWire(w *Writer) {
	for _, e := range m.Regions {
		w.U32(e.Address)
		w.U32(e.Length)
		w.U32(e.Flags)
	}
}

func (m *MemoryMapReply) UnmarshalWire(r *Reader) {
	m.Regions = nil
	for r.Remaining() >= 12 {
		m.Regions = append(m.Regions, MemoryRegion{Address: r.U32(), Length: r.U32(), Flags: r.U32()})
	}
}

// Flash block usage values, stored in the low nibble of the upper byte of
// FlashSector.Flags.
const (
	BlockUsageMask       uint32 = 0x000000F0
	BlockUsageBootstrap  uint32 = 0x00000010
	BlockUsageCode       uint32 = 0x00000020
	BlockUsageConfig     uint32 = 0x00000030
	BlockUsageFileSystem uint32 = 0x00000040
	BlockUsageDeployment uint32 = 0x00000050
	BlockUsageUpdate     uint32 = 0x00000060
	BlockUsageStorage    uint32 = 0x00000070
)

// BlockUsageName names a usage value.
func BlockUsageName(flags uint32) string {
	switch flags & BlockUsageMask {
	case BlockUsageBootstrap:
		return "nanoBooter"
	case BlockUsageCode:
		return "nanoCLR"
	case BlockUsageConfig:
		return "config"
	case BlockUsageFileSystem:
		return "filesystem"
	case BlockUsageDeployment:
		return "deployment"
	case BlockUsageUpdate:
		return "update"
	case BlockUsageStorage:
		return "storage"
	}
	return "unknown"
}

// FlashSector is one region of equally sized flash blocks.
type FlashSector struct {
	StartAddress  uint32
	NumBlocks     uint32
	BytesPerBlock uint32
	Flags         uint32
}

// Size is the total byte size of the sector.
func (s FlashSector) Size() uint32 { return s.NumBlocks * s.BytesPerBlock }

// Usage returns the block usage value.
func (s FlashSector) Usage() uint32 { return s.Flags & BlockUsageMask }

type FlashSectorMapReply struct {
	Sectors []FlashSector
}

func (m *FlashSectorMapReply) MarshalWire(w *Writer) {
	for _, s := range m.Sectors {
		w.U32(s.StartAddress)
		w.U32(s.NumBlocks)
		w.U32(s.BytesPerBlock)
		w.U32(s.Flags)
	}
}

func (m *FlashSectorMapReply) UnmarshalWire(r *Reader) {
	m.Sectors = nil
	for r.Remaining() >= 16 {
		m.Sectors = append(m.Sectors, FlashSector{
			StartAddress:  r.U32(),
			NumBlocks:     r.U32(),
			BytesPerBlock: r.U32(),
			Flags:         r.U32(),
		})
	}
}

// DeployedAssembly is one entry of the deployment map.
type DeployedAssembly struct {
	Address uint32
	Size    uint32
	CRC     uint32
}

type DeploymentMapReply struct {
	Assemblies []DeployedAssembly
}

func (m *DeploymentMapReply) MarshalWire(w *Writer) {
	w.U32(uint32(len(m.Assemblies)))
	for _, a := range m.Assemblies {
		w.U32(a.Address)
		w.U32(a.Size)
		w.U32(a.CRC)
	}
}

func (m *DeploymentMapReply) UnmarshalWire(r *Reader) {
	n := r.U32()
	m.Assemblies = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Assemblies = append(m.Assemblies, DeployedAssembly{Address: r.U32(), Size: r.U32(), CRC: r.U32()})
	}
}

// Version is a four part version number.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

func (v *Version) marshal(w *Writer) {
	w.U16(v.Major)
	w.U16(v.Minor)
	w.U16(v.Build)
	w.U16(v.Revision)
}

func (v *Version) unmarshal(r *Reader) {
	v.Major = r.U16()
	v.Minor = r.U16()
	v.Build = r.U16()
	v.Revision = r.U16()
}

const releaseInfoSize = 64

// ReleaseInfo is a version plus a free-form info string.
type ReleaseInfo struct {
	Version Version
	Info    string
}

func (ri *ReleaseInfo) marshal(w *Writer) {
	ri.Version.marshal(w)
	w.String(ri.Info, releaseInfoSize)
}

func (ri *ReleaseInfo) unmarshal(r *Reader) {
	ri.Version.unmarshal(r)
	ri.Info = r.String(releaseInfoSize)
}

const (
	nameFieldSize    = 32
	platformInfoSize = 128
)

// TargetInfoReply identifies the firmware running on the target.
type TargetInfoReply struct {
	Booter       ReleaseInfo
	CLR          ReleaseInfo
	TargetName   string
	PlatformName string
	PlatformInfo string
}

func (m *TargetInfoReply) MarshalWire(w *Writer) {
	m.Booter.marshal(w)
	m.CLR.marshal(w)
	w.String(m.TargetName, nameFieldSize)
	w.String(m.PlatformName, nameFieldSize)
	w.String(m.PlatformInfo, platformInfoSize)
}

func (m *TargetInfoReply) UnmarshalWire(r *Reader) {
	m.Booter.unmarshal(r)
	m.CLR.unmarshal(r)
	m.TargetName = r.String(nameFieldSize)
	m.PlatformName = r.String(nameFieldSize)
	m.PlatformInfo = r.String(platformInfoSize)
}

// OemInfoReply is the older identity reply. Targets put the target and
// platform names into the release info string.
type OemInfoReply struct {
	Release ReleaseInfo
}

func (m *OemInfoReply) MarshalWire(w *Writer)   { m.Release.marshal(w) }
func (m *OemInfoReply) UnmarshalWire(r *Reader) { m.Release.unmarshal(r) }

// RawReply keeps a payload whose shape depends on the request parameters.
type RawReply struct {
	Data []byte
}

func (m *RawReply) MarshalWire(w *Writer)   { w.Raw(m.Data) }
func (m *RawReply) UnmarshalWire(r *Reader) { m.Data = r.Rest() }
