package protocol

import (
	"fmt"
	"net/netip"
)

// QueryConfiguration reads one configuration block of the given kind.
type QueryConfiguration struct {
	Kind  uint32
	Block uint32
}

func (m *QueryConfiguration) MarshalWire(w *Writer) {
	w.U32(m.Kind)
	w.U32(m.Block)
}

func (m *QueryConfiguration) UnmarshalWire(r *Reader) {
	m.Kind = r.U32()
	m.Block = r.U32()
}

// UpdateConfiguration writes one chunk of a configuration block. Done is set
// on the last chunk so the target can commit the block.
type UpdateConfiguration struct {
	Kind   uint32
	Block  uint32
	Offset uint32
	Done   bool
	Data   []byte
}

func (m *UpdateConfiguration) MarshalWire(w *Writer) {
	w.U32(m.Kind)
	w.U32(m.Block)
	w.U32(uint32(len(m.Data)))
	w.U32(m.Offset)
	done := uint32(0)
	if m.Done {
		done = 1
	}
	w.U32(done)
	w.Raw(m.Data)
}

func (m *UpdateConfiguration) UnmarshalWire(r *Reader) {
	m.Kind = r.U32()
	m.Block = r.U32()
	n := r.U32()
	m.Offset = r.U32()
	m.Done = r.U32() != 0
	m.Data = r.Raw(int(n))
}

// Address modes for NetworkConfiguration.StartupAddressMode.
const (
	AddressModeInvalid uint8 = 0
	AddressModeDHCP    uint8 = 1
	AddressModeStatic  uint8 = 2
	AddressModeAutoIP  uint8 = 3
)

// NetworkConfiguration is a network interface configuration block.
type NetworkConfiguration struct {
	Marker             [4]byte
	MACAddress         [6]byte
	IPv4Address        uint32
	IPv4NetMask        uint32
	IPv4Gateway        uint32
	IPv4DNS1           uint32
	IPv4DNS2           uint32
	InterfaceType      uint8
	StartupAddressMode uint8
	SpecificConfigID   uint32
}

func (m *NetworkConfiguration) MarshalWire(w *Writer) {
	w.Raw(m.Marker[:])
	w.Raw(m.MACAddress[:])
	w.U32(m.IPv4Address)
	w.U32(m.IPv4NetMask)
	w.U32(m.IPv4Gateway)
	w.U32(m.IPv4DNS1)
	w.U32(m.IPv4DNS2)
	w.U8(m.InterfaceType)
	w.U8(m.StartupAddressMode)
	w.U32(m.SpecificConfigID)
}

func (m *NetworkConfiguration) UnmarshalWire(r *Reader) {
	copy(m.Marker[:], r.Raw(4))
	copy(m.MACAddress[:], r.Raw(6))
	m.IPv4Address = r.U32()
	m.IPv4NetMask = r.U32()
	m.IPv4Gateway = r.U32()
	m.IPv4DNS1 = r.U32()
	m.IPv4DNS2 = r.U32()
	m.InterfaceType = r.U8()
	m.StartupAddressMode = r.U8()
	m.SpecificConfigID = r.U32()
}

// IPv4 converts one of the address fields. Addresses are stored in network
// order in the low bytes first, the way lwIP keeps them.
func IPv4(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Wireless80211Configuration is a Wi-Fi station or access point block.
type Wireless80211Configuration struct {
	Marker         [4]byte
	ID             uint32
	Authentication uint8
	Encryption     uint8
	Radio          uint8
	SSID           string
	Password       string
	Options        uint8
}

func (m *Wireless80211Configuration) MarshalWire(w *Writer) {
	w.Raw(m.Marker[:])
	w.U32(m.ID)
	w.U8(m.Authentication)
	w.U8(m.Encryption)
	w.U8(m.Radio)
	w.String(m.SSID, 32)
	w.String(m.Password, 64)
	w.U8(m.Options)
}

func (m *Wireless80211Configuration) UnmarshalWire(r *Reader) {
	copy(m.Marker[:], r.Raw(4))
	m.ID = r.U32()
	m.Authentication = r.U8()
	m.Encryption = r.U8()
	m.Radio = r.U8()
	m.SSID = r.String(32)
	m.Password = r.String(64)
	m.Options = r.U8()
}

// X509Configuration carries a certificate bundle as opaque bytes.
type X509Configuration struct {
	Marker      [4]byte
	Certificate []byte
}

func (m *X509Configuration) MarshalWire(w *Writer) {
	w.Raw(m.Marker[:])
	w.U32(uint32(len(m.Certificate)))
	w.Raw(m.Certificate)
}

func (m *X509Configuration) UnmarshalWire(r *Reader) {
	copy(m.Marker[:], r.Raw(4))
	n := r.U32()
	m.Certificate = r.Raw(int(n))
}

// DecodeConfiguration decodes a QueryConfiguration reply for the given kind.
func DecodeConfiguration(kind uint32, data []byte, order ByteOrder) (Record, error) {
	var rec Record
	switch kind {
	case ConfigNetwork:
		rec = &NetworkConfiguration{}
	case ConfigWireless80211, ConfigWirelessAP:
		rec = &Wireless80211Configuration{}
	case ConfigX509CaRootBundle, ConfigX509DeviceCertificates:
		rec = &X509Configuration{}
	default:
		return nil, fmt.Errorf("unknown configuration kind %d", kind)
	}
	if err := Unmarshal(data, rec, order); err != nil {
		return nil, err
	}
	return rec, nil
}
