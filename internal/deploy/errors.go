package deploy

import (
	"errors"
	"fmt"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
)

// ErrNotWordAligned rejects images whose length is not a multiple of 4.
var ErrNotWordAligned = errors.New("image length is not a multiple of 4")

// ErrNoDeploymentRegion is returned when the flash map has no usable sectors.
var ErrNoDeploymentRegion = errors.New("flash map has no deployment sectors")

// CapacityError means the images do not fit. Nothing was erased or written.
type CapacityError struct {
	Need      uint32
	Available uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("images need %d bytes, only %d available", e.Need, e.Available)
}

// FlashError reports the block where erase or write stopped. Blocks before
// it were already updated.
type FlashError struct {
	Op      string
	Address uint32
	Err     error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("%s at 0x%08X: %v", e.Op, e.Address, e.Err)
}

func (e *FlashError) Unwrap() error { return e.Err }

// DeviceRejected reports whether the target answered with an error code,
// as opposed to not answering at all.
func (e *FlashError) DeviceRejected() bool {
	var de *engine.DeviceError
	return errors.As(e.Err, &de)
}

// VerifyError is the first byte that read back differently. Offset is
// relative to the start of the block holding it.
type VerifyError struct {
	Address uint32
	Offset  int
	Want    byte
	Got     byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X: wrote 0x%02X, read 0x%02X", e.Address, e.Want, e.Got)
}
