package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// USBID returns "VID:PID" in upper case, or "" for non-USB ports.
func (pi PortInfo) USBID() string {
	if !pi.IsUSB {
		return ""
	}
	return strings.ToUpper(pi.VID + ":" + pi.PID)
}

// LooksLikeBluetooth reports virtual serial ports created by Bluetooth
// stacks. Those hang on open when the paired device is out of range.
func (pi PortInfo) LooksLikeBluetooth() bool {
	n := strings.ToLower(pi.Name)
	p := strings.ToLower(pi.Product)
	return strings.Contains(n, "rfcomm") ||
		strings.Contains(n, "bluetooth") ||
		strings.Contains(p, "bluetooth")
}

// ListSerialPorts returns the serial ports currently present.
func ListSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
