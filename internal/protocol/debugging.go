package protocol

import "fmt"

// ChangeConditions sets and clears execution condition bits in one step. A
// request with both masks zero only queries the current state.
type ChangeConditions struct {
	Set   uint32
	Reset uint32
}

func (m *ChangeConditions) MarshalWire(w *Writer) {
	w.U32(m.Set)
	w.U32(m.Reset)
}

func (m *ChangeConditions) UnmarshalWire(r *Reader) {
	m.Set = r.U32()
	m.Reset = r.U32()
}

type ChangeConditionsReply struct {
	Current uint32
}

func (m *ChangeConditionsReply) MarshalWire(w *Writer)   { w.U32(m.Current) }
func (m *ChangeConditionsReply) UnmarshalWire(r *Reader) { m.Current = r.U32() }

// QueryCapabilities asks for one capability kind. The reply is a RawReply
// decoded with DecodeCapability.
type QueryCapabilities struct {
	Kind uint32
}

func (m *QueryCapabilities) MarshalWire(w *Writer)   { w.U32(m.Kind) }
func (m *QueryCapabilities) UnmarshalWire(r *Reader) { m.Kind = r.U32() }

// Capability flag bits reported for CapabilityFlags.
const (
	CapFloatingPoint         uint32 = 0x00000001
	CapSourceLevelDebugging  uint32 = 0x00000002
	CapAppDomains            uint32 = 0x00000004
	CapExceptionFilters      uint32 = 0x00000008
	CapIncrementalDeployment uint32 = 0x00000010
	CapSoftReboot            uint32 = 0x00000020
	CapProfiling             uint32 = 0x00000040
	CapThreadCreateEx        uint32 = 0x00000400
	CapConfigBlockNeedsErase uint32 = 0x00000800
	CapHasNanoBooter         uint32 = 0x00001000
	CapCanChangeMACAddress   uint32 = 0x00002000
)

type CapabilityFlagsReply struct {
	Flags uint32
}

func (m *CapabilityFlagsReply) MarshalWire(w *Writer)   { w.U32(m.Flags) }
func (m *CapabilityFlagsReply) UnmarshalWire(r *Reader) { m.Flags = r.U32() }

type SoftwareVersion struct {
	BuildDate       string
	CompilerInfo    string
	CompilerVersion uint32
}

func (m *SoftwareVersion) MarshalWire(w *Writer) {
	w.String(m.BuildDate, 22)
	w.String(m.CompilerInfo, 16)
	w.U32(m.CompilerVersion)
}

func (m *SoftwareVersion) UnmarshalWire(r *Reader) {
	m.BuildDate = r.String(22)
	m.CompilerInfo = r.String(16)
	m.CompilerVersion = r.U32()
}

type HalSystemInfo struct {
	Release            ReleaseInfo
	OEM                uint8
	Model              uint8
	SKU                uint16
	ModuleSerialNumber [32]byte
	SystemSerialNumber [16]byte
}

func (m *HalSystemInfo) MarshalWire(w *Writer) {
	m.Release.marshal(w)
	w.U8(m.OEM)
	w.U8(m.Model)
	w.U16(m.SKU)
	w.Raw(m.ModuleSerialNumber[:])
	w.Raw(m.SystemSerialNumber[:])
}

func (m *HalSystemInfo) UnmarshalWire(r *Reader) {
	m.Release.unmarshal(r)
	m.OEM = r.U8()
	m.Model = r.U8()
	m.SKU = r.U16()
	copy(m.ModuleSerialNumber[:], r.Raw(32))
	copy(m.SystemSerialNumber[:], r.Raw(16))
}

// SerialNumber renders the module serial number as hex.
func (m *HalSystemInfo) SerialNumber() string {
	return fmt.Sprintf("%X", m.ModuleSerialNumber[:])
}

type ClrInfo struct {
	Release                ReleaseInfo
	TargetFrameworkVersion Version
}

func (m *ClrInfo) MarshalWire(w *Writer) {
	m.Release.marshal(w)
	m.TargetFrameworkVersion.marshal(w)
}

func (m *ClrInfo) UnmarshalWire(r *Reader) {
	m.Release.unmarshal(r)
	m.TargetFrameworkVersion.unmarshal(r)
}

type SolutionReleaseInfo struct {
	Version    Version
	VendorInfo string
}

func (m *SolutionReleaseInfo) MarshalWire(w *Writer) {
	m.Version.marshal(w)
	w.String(m.VendorInfo, releaseInfoSize)
}

func (m *SolutionReleaseInfo) UnmarshalWire(r *Reader) {
	m.Version.unmarshal(r)
	m.VendorInfo = r.String(releaseInfoSize)
}

const nativeAssemblyNameSize = 128

type NativeAssembly struct {
	CRC     uint32
	Version Version
	Name    string
}

type NativeAssemblies struct {
	Assemblies []NativeAssembly
}

func (m *NativeAssemblies) MarshalWire(w *Writer) {
	for i := range m.Assemblies {
		a := &m.Assemblies[i]
		w.U32(a.CRC)
		a.Version.marshal(w)
		w.String(a.Name, nativeAssemblyNameSize)
	}
}

func (m *NativeAssemblies) UnmarshalWire(r *Reader) {
	m.Assemblies = nil
	for r.Remaining() >= 4+8+nativeAssemblyNameSize {
		var a NativeAssembly
		a.CRC = r.U32()
		a.Version.unmarshal(r)
		a.Name = r.String(nativeAssemblyNameSize)
		m.Assemblies = append(m.Assemblies, a)
	}
}

// DecodeCapability decodes a QueryCapabilities reply for the given kind.
func DecodeCapability(kind uint32, data []byte, order ByteOrder) (Record, error) {
	var rec Record
	switch kind {
	case CapabilityFlags:
		rec = &CapabilityFlagsReply{}
	case CapabilitySoftwareVersion:
		rec = &SoftwareVersion{}
	case CapabilityHalSystemInfo:
		rec = &HalSystemInfo{}
	case CapabilityClrInfo:
		rec = &ClrInfo{}
	case CapabilitySolutionReleaseInfo:
		rec = &SolutionReleaseInfo{}
	case CapabilityNativeAssemblies:
		rec = &NativeAssemblies{}
	default:
		return nil, fmt.Errorf("unknown capability kind %d", kind)
	}
	if err := Unmarshal(data, rec, order); err != nil {
		return nil, err
	}
	return rec, nil
}

// IndexList is a reply made of 32-bit ids: thread ids or assembly indexes.
type IndexList struct {
	Items []uint32
}

func (m *IndexList) MarshalWire(w *Writer) {
	for _, v := range m.Items {
		w.U32(v)
	}
}

func (m *IndexList) UnmarshalWire(r *Reader) {
	m.Items = nil
	for r.Remaining() >= 4 {
		m.Items = append(m.Items, r.U32())
	}
}

type ThreadID struct {
	PID uint32
}

func (m *ThreadID) MarshalWire(w *Writer)   { w.U32(m.PID) }
func (m *ThreadID) UnmarshalWire(r *Reader) { m.PID = r.U32() }

// StackFrame locates one call frame by method index and IL offset.
type StackFrame struct {
	Method uint32
	IP     uint32
}

type ThreadStackReply struct {
	Frames []StackFrame
}

func (m *ThreadStackReply) MarshalWire(w *Writer) {
	w.U32(uint32(len(m.Frames)))
	for _, f := range m.Frames {
		w.U32(f.Method)
		w.U32(f.IP)
	}
}

func (m *ThreadStackReply) UnmarshalWire(r *Reader) {
	n := r.U32()
	m.Frames = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Frames = append(m.Frames, StackFrame{Method: r.U32(), IP: r.U32()})
	}
}

// ResolveIndex is the request for every Resolve_* command.
type ResolveIndex struct {
	Index uint32
}

func (m *ResolveIndex) MarshalWire(w *Writer)   { w.U32(m.Index) }
func (m *ResolveIndex) UnmarshalWire(r *Reader) { m.Index = r.U32() }

const (
	assemblyNameSize = 128
	memberNameSize   = 512
)

type ResolveAssemblyReply struct {
	Flags   uint32
	Name    string
	Version Version
}

func (m *ResolveAssemblyReply) MarshalWire(w *Writer) {
	w.U32(m.Flags)
	w.String(m.Name, assemblyNameSize)
	m.Version.marshal(w)
}

func (m *ResolveAssemblyReply) UnmarshalWire(r *Reader) {
	m.Flags = r.U32()
	m.Name = r.String(assemblyNameSize)
	m.Version.unmarshal(r)
}

type ResolveTypeReply struct {
	Name string
}

func (m *ResolveTypeReply) MarshalWire(w *Writer)   { w.String(m.Name, memberNameSize) }
func (m *ResolveTypeReply) UnmarshalWire(r *Reader) { m.Name = r.String(memberNameSize) }

type ResolveFieldReply struct {
	Type  uint32
	Index uint32
	Name  string
}

func (m *ResolveFieldReply) MarshalWire(w *Writer) {
	w.U32(m.Type)
	w.U32(m.Index)
	w.String(m.Name, memberNameSize)
}

func (m *ResolveFieldReply) UnmarshalWire(r *Reader) {
	m.Type = r.U32()
	m.Index = r.U32()
	m.Name = r.String(memberNameSize)
}

type ResolveMethodReply struct {
	Type uint32
	Name string
}

func (m *ResolveMethodReply) MarshalWire(w *Writer) {
	w.U32(m.Type)
	w.String(m.Name, memberNameSize)
}

func (m *ResolveMethodReply) UnmarshalWire(r *Reader) {
	m.Type = r.U32()
	m.Name = r.String(memberNameSize)
}

// MessagingAddress routes an RPC message between endpoints, each identified
// by a (type, id) pair.
type MessagingAddress struct {
	Seq      uint32
	FromType uint32
	FromID   uint32
	ToType   uint32
	ToID     uint32
}

func (a *MessagingAddress) marshal(w *Writer) {
	w.U32(a.Seq)
	w.U32(a.FromType)
	w.U32(a.FromID)
	w.U32(a.ToType)
	w.U32(a.ToID)
}

func (a *MessagingAddress) unmarshal(r *Reader) {
	a.Seq = r.U32()
	a.FromType = r.U32()
	a.FromID = r.U32()
	a.ToType = r.U32()
	a.ToID = r.U32()
}

type MessagingQuery struct {
	Address MessagingAddress
}

func (m *MessagingQuery) MarshalWire(w *Writer)   { m.Address.marshal(w) }
func (m *MessagingQuery) UnmarshalWire(r *Reader) { m.Address.unmarshal(r) }

type MessagingQueryReply struct {
	Found   uint32
	Address MessagingAddress
}

func (m *MessagingQueryReply) MarshalWire(w *Writer) {
	w.U32(m.Found)
	m.Address.marshal(w)
}

func (m *MessagingQueryReply) UnmarshalWire(r *Reader) {
	m.Found = r.U32()
	m.Address.unmarshal(r)
}

// MessagingSend is used for both Messaging_Send and Messaging_Reply.
type MessagingSend struct {
	Address MessagingAddress
	Data    []byte
}

func (m *MessagingSend) MarshalWire(w *Writer) {
	m.Address.marshal(w)
	w.Raw(m.Data)
}

func (m *MessagingSend) UnmarshalWire(r *Reader) {
	m.Address.unmarshal(r)
	m.Data = r.Rest()
}
