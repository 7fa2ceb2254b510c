package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// ConfigKinds maps CLI names to configuration block kinds.
var ConfigKinds = map[string]uint32{
	"network":     protocol.ConfigNetwork,
	"wifi":        protocol.ConfigWireless80211,
	"wifi-ap":     protocol.ConfigWirelessAP,
	"x509-ca":     protocol.ConfigX509CaRootBundle,
	"x509-device": protocol.ConfigX509DeviceCertificates,
}

// ConfigKindNames returns the accepted kind names, sorted.
func ConfigKindNames() []string {
	names := make([]string, 0, len(ConfigKinds))
	for n := range ConfigKinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var addressModes = map[uint8]string{
	protocol.AddressModeDHCP:   "DHCP",
	protocol.AddressModeStatic: "static",
	protocol.AddressModeAutoIP: "auto IP",
}

// ConfigGet reads and prints one configuration block of the target.
func ConfigGet(ctx context.Context, w io.Writer, e *engine.Engine, kind string, block uint32) error {
	k, ok := ConfigKinds[kind]
	if !ok {
		return fmt.Errorf("unknown configuration kind %q (want one of %s)", kind, strings.Join(ConfigKindNames(), ", "))
	}
	rec, err := e.QueryConfiguration(ctx, k, block)
	if err != nil {
		return err
	}
	switch c := rec.(type) {
	case *protocol.NetworkConfiguration:
		field(w, "MAC", net.HardwareAddr(c.MACAddress[:]))
		mode, ok := addressModes[c.StartupAddressMode]
		if !ok {
			mode = "invalid"
		}
		field(w, "Address mode", mode)
		field(w, "IPv4", protocol.IPv4(c.IPv4Address))
		field(w, "Netmask", protocol.IPv4(c.IPv4NetMask))
		field(w, "Gateway", protocol.IPv4(c.IPv4Gateway))
		field(w, "DNS", fmt.Sprintf("%s, %s", protocol.IPv4(c.IPv4DNS1), protocol.IPv4(c.IPv4DNS2)))
	case *protocol.Wireless80211Configuration:
		field(w, "SSID", c.SSID)
		field(w, "Authentication", c.Authentication)
		field(w, "Encryption", c.Encryption)
		field(w, "Options", fmt.Sprintf("0x%02X", c.Options))
	case *protocol.X509Configuration:
		field(w, "Certificate", humanize.IBytes(uint64(len(c.Certificate))))
	default:
		fmt.Fprintf(w, "%+v\n", rec)
	}
	return nil
}
