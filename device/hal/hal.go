package hal

import (
	"context"
)

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// IsDeviceToHost reports whether the packet announces an IN data stage.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&0x80 != 0
}

// DeviceHAL defines the control-endpoint contract between the device stack
// and a USB controller.
//
// Only endpoint 0 is modeled: class drivers served by this stack exchange
// everything over control transfers.
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// SetAddress sets the device address in hardware.
	SetAddress(address uint8) error

	// ReadSetup reads a SETUP packet from EP0.
	// Blocks until a SETUP packet is available or the context is cancelled.
	// Returns [github.com/ardnew/dfurt/pkg.ErrReset] when the host drives a bus reset instead.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 writes data to EP0 (control IN data stage).
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 reads the control OUT data stage into buf.
	// Returns the number of bytes read into buf.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 stalls the control endpoint to reject the current request.
	StallEP0() error

	// AckEP0 completes the status stage of a successful control transfer.
	AckEP0() error
}
