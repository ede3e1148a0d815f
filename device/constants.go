package device

import "fmt"

// Maximum limits for fixed-size arrays (zero-allocation support).
const (
	// MaxInterfacesPerConfiguration is the maximum number of interfaces
	// the allocator will hand out.
	MaxInterfacesPerConfiguration = 8

	// MaxClasses is the maximum number of class drivers per stack.
	MaxClasses = 8

	// MaxControlDataSize is the maximum data size for control transfers.
	MaxControlDataSize = 512

	// MaxDescriptorResponseSize is the size of the buffer used to build
	// the configuration descriptor.
	MaxDescriptorResponseSize = 512
)

// ConfigurationValue is the bConfigurationValue of the single configuration
// exposed by the stack.
const ConfigurationValue = 1

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateDefault    State = 0 // Device has been reset, using default address
	StateAddress    State = 1 // Device has been assigned a unique address
	StateConfigured State = 2 // Device is configured and operational
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
