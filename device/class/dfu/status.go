package dfu

import (
	"fmt"

	"github.com/ardnew/dfurt/pkg"
)

// State is the DFU state of a run-time interface (bState).
type State uint8

// Run-time DFU states (DFU 1.1 section 6.1.2).
const (
	StateAppIdle   State = 0 // Normal operation
	StateAppDetach State = 1 // DFU_DETACH accepted, waiting for reset
)

// String returns the state name used by the DFU specification.
func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// StatusSize is the length of the DFU_GETSTATUS response.
const StatusSize = 6

// Status is the DFU_GETSTATUS response.
type Status struct {
	Status      uint8  // bStatus
	PollTimeout uint32 // bwPollTimeout, 24 bits
	State       State  // bState
	StringIndex uint8  // iString
}

// MarshalTo writes the status record to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *Status) MarshalTo(buf []byte) int {
	if len(buf) < StatusSize {
		return 0
	}
	buf[0] = s.Status
	buf[1] = byte(s.PollTimeout)
	buf[2] = byte(s.PollTimeout >> 8)
	buf[3] = byte(s.PollTimeout >> 16)
	buf[4] = uint8(s.State)
	buf[5] = s.StringIndex
	return StatusSize
}

// ParseStatus parses a DFU_GETSTATUS response into out.
func ParseStatus(data []byte, out *Status) error {
	if len(data) < StatusSize {
		return pkg.ErrDescriptorTooShort
	}
	out.Status = data[0]
	out.PollTimeout = uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	out.State = State(data[4])
	out.StringIndex = data[5]
	return nil
}
