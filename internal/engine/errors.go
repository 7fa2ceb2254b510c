package engine

import (
	"errors"
	"fmt"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

var (
	// ErrNoReply means the target did not answer after all retries, or
	// rejected the request.
	ErrNoReply = errors.New("no reply from device")
	// ErrInvalidState is returned for calls the lifecycle does not allow.
	ErrInvalidState = errors.New("invalid engine state")
	// ErrNotRuntime is returned for debugging commands while nanoBooter answers.
	ErrNotRuntime = errors.New("device is not running nanoCLR")
	// ErrNotBooter is returned when the target could not be switched to nanoBooter.
	ErrNotBooter = errors.New("device could not enter nanoBooter")
	// ErrDuplicateRequest guards the one-request-per-key invariant.
	ErrDuplicateRequest = errors.New("request with same command and sequence already pending")
	// ErrRequestExpired completes requests dropped by the sweep.
	ErrRequestExpired = errors.New("request expired")
)

// DeviceError is a memory access failure reported by the target itself, as
// opposed to a communication failure.
type DeviceError struct {
	Op      string
	Address uint32
	Code    uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s at 0x%08X failed: %s", e.Op, e.Address, accessErrorName(e.Code))
}

func accessErrorName(code uint32) string {
	switch code {
	case protocol.AccessMemoryErrorRead:
		return "read error"
	case protocol.AccessMemoryErrorWrite:
		return "write error"
	case protocol.AccessMemoryErrorErase:
		return "erase error"
	case protocol.AccessMemoryErrorFailed:
		return "operation failed"
	case protocol.AccessMemoryErrorWrongRange:
		return "address out of range"
	}
	return fmt.Sprintf("error code %d", code)
}

func isNoReply(err error) bool {
	return errors.Is(err, ErrNoReply)
}
