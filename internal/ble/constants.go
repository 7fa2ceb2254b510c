package ble

import "time"

const (
	// UARTServiceUUID is the Nordic UART service nanoFramework targets
	// expose the debugger on.
	UARTServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"

	// UARTRXCharUUID is written by the host (device receives).
	UARTRXCharUUID = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"

	// UARTTXCharUUID notifies the host (device transmits).
	UARTTXCharUUID = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

const (
	// chunkSize is the largest write sent in one ATT packet (BLE 4.2+ MTU).
	chunkSize = 244

	// chunkGap lets the device drain its buffer between chunks.
	chunkGap = 10 * time.Millisecond

	// notifySettle is how long a fresh subscription needs before the first
	// write is answered.
	notifySettle = 100 * time.Millisecond
)
