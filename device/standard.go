package device

import (
	"encoding/binary"

	"github.com/ardnew/dfurt/pkg"
)

// handleStandard processes a standard SETUP request.
// Returns the response data (may be nil) and an error.
func (s *Stack) handleStandard(setup *SetupPacket) ([]byte, error) {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return s.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		return s.handleInterfaceRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// handleDeviceRequest handles device-level standard requests.
func (s *Stack) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		var status uint16
		if configAttributes&ConfigAttrSelfPowered != 0 {
			status |= 0x01
		}
		binary.LittleEndian.PutUint16(s.responseBuf[:2], status)
		return s.responseBuf[:2], nil
	case RequestSetAddress:
		return nil, s.setAddress(uint8(setup.Value & 0x7F))
	case RequestGetDescriptor:
		return s.getDescriptor(setup)
	case RequestGetConfiguration:
		s.mutex.RLock()
		s.responseBuf[0] = s.configuration
		s.mutex.RUnlock()
		return s.responseBuf[:1], nil
	case RequestSetConfiguration:
		return nil, s.setConfiguration(uint8(setup.Value & 0xFF))
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// handleInterfaceRequest handles interface-level standard requests.
func (s *Stack) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	if setup.InterfaceNumber() >= s.alloc.Count() {
		return nil, pkg.ErrInvalidRequest
	}
	switch setup.Request {
	case RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		// Interface status is reserved (zero)
		s.responseBuf[0], s.responseBuf[1] = 0, 0
		return s.responseBuf[:2], nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// getDescriptor handles GET_DESCRIPTOR request.
func (s *Stack) getDescriptor(setup *SetupPacket) ([]byte, error) {
	var n int
	var err error

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = s.descriptor.MarshalTo(s.responseBuf[:])
		if n == 0 {
			err = pkg.ErrBufferTooSmall
		}
	case DescriptorTypeConfiguration:
		if setup.DescriptorIndex() != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		n, err = s.ConfigurationDescriptorTo(s.responseBuf[:])
	default:
		return nil, pkg.ErrInvalidRequest
	}
	if err != nil {
		return nil, err
	}

	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return s.responseBuf[:n], nil
}

// setAddress handles SET_ADDRESS request.
func (s *Stack) setAddress(address uint8) error {
	s.mutex.Lock()
	s.address = address
	if address == 0 {
		s.state = StateDefault
	} else {
		s.state = StateAddress
	}
	h := s.hal
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "address set", "address", address)

	if h != nil {
		return h.SetAddress(address)
	}
	return nil
}

// setConfiguration handles SET_CONFIGURATION request.
func (s *Stack) setConfiguration(value uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch value {
	case 0:
		s.configuration = 0
		if s.address != 0 {
			s.state = StateAddress
		}
	case ConfigurationValue:
		if s.state == StateDefault {
			return pkg.ErrInvalidRequest
		}
		s.configuration = value
		s.state = StateConfigured
	default:
		return pkg.ErrInvalidRequest
	}

	pkg.LogDebug(pkg.ComponentStack, "configuration set", "config", value)
	return nil
}
