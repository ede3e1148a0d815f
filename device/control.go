package device

import (
	"github.com/ardnew/dfurt/pkg"
)

// ControlResult records what a class driver decided about a control transfer.
type ControlResult uint8

// Control transfer results.
const (
	ControlPending  ControlResult = iota // No driver has claimed the transfer
	ControlAccepted                      // Transfer completes with a status ACK
	ControlRejected                      // Transfer is stalled
)

// String returns a human-readable result name.
func (r ControlResult) String() string {
	switch r {
	case ControlPending:
		return "pending"
	case ControlAccepted:
		return "accepted"
	case ControlRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// control holds the state shared by both transfer directions.
type control struct {
	setup  SetupPacket
	result ControlResult
}

// Request returns the SETUP packet of the transfer.
func (c *control) Request() *SetupPacket {
	return &c.setup
}

// Result returns the decision recorded so far.
func (c *control) Result() ControlResult {
	return c.result
}

// Handled reports whether a driver accepted or rejected the transfer.
func (c *control) Handled() bool {
	return c.result != ControlPending
}

// Reject stalls the transfer. Only the first decision is kept.
func (c *control) Reject() {
	if c.result != ControlPending {
		return
	}
	c.result = ControlRejected
}

// ControlOut is a host-to-device control transfer offered to class drivers.
type ControlOut struct {
	control
	data []byte
}

// NewControlOut prepares a host-to-device transfer for dispatch.
// data is the OUT data stage and is stored by reference.
func NewControlOut(setup *SetupPacket, data []byte) *ControlOut {
	x := &ControlOut{}
	x.reset(setup, data)
	return x
}

func (x *ControlOut) reset(setup *SetupPacket, data []byte) {
	x.setup = *setup
	x.result = ControlPending
	x.data = data
}

// Data returns the OUT data stage received from the host.
func (x *ControlOut) Data() []byte {
	return x.data
}

// Accept acknowledges the transfer. Only the first decision is kept.
func (x *ControlOut) Accept() {
	if x.result != ControlPending {
		return
	}
	x.result = ControlAccepted
}

// ControlIn is a device-to-host control transfer offered to class drivers.
type ControlIn struct {
	control
	buf [MaxControlDataSize]byte
	n   int
}

// NewControlIn prepares a device-to-host transfer for dispatch.
func NewControlIn(setup *SetupPacket) *ControlIn {
	x := &ControlIn{}
	x.reset(setup)
	return x
}

func (x *ControlIn) reset(setup *SetupPacket) {
	x.setup = *setup
	x.result = ControlPending
	x.n = 0
}

// AcceptWith answers the transfer with data, truncated to wLength.
// Only the first decision is kept.
func (x *ControlIn) AcceptWith(data []byte) error {
	if x.result != ControlPending {
		return nil
	}
	if len(data) > len(x.buf) {
		x.result = ControlRejected
		return pkg.ErrBufferTooSmall
	}
	n := copy(x.buf[:], data)
	if n > int(x.setup.Length) {
		n = int(x.setup.Length)
	}
	x.n = n
	x.result = ControlAccepted
	return nil
}

// Response returns the data stage recorded by AcceptWith.
// The returned slice references the transfer's buffer.
func (x *ControlIn) Response() []byte {
	return x.buf[:x.n]
}
