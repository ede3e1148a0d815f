package device

import (
	"sync"

	"github.com/ardnew/dfurt/pkg"
)

// InterfaceNumber is a bInterfaceNumber issued by an [InterfaceAllocator].
type InterfaceNumber uint8

// Allocator issues interface numbers to class drivers during stack setup.
type Allocator interface {
	AllocateInterface() (InterfaceNumber, error)
}

// InterfaceAllocator hands out consecutive interface numbers starting at 0.
type InterfaceAllocator struct {
	next  uint8
	mutex sync.Mutex
}

// AllocateInterface returns the next free interface number.
func (a *InterfaceAllocator) AllocateInterface() (InterfaceNumber, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.next >= MaxInterfacesPerConfiguration {
		return 0, pkg.ErrNoMemory
	}
	num := InterfaceNumber(a.next)
	a.next++

	pkg.LogDebug(pkg.ComponentDevice, "interface allocated",
		"interface", num)

	return num, nil
}

// Count returns the number of interfaces allocated so far.
func (a *InterfaceAllocator) Count() uint8 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.next
}

// ClassDriver defines the interface for USB class-specific handling.
//
// The stack calls every registered driver for each event; a driver that
// does not recognize a control transfer leaves it undecided so the next
// driver can consider it.
type ClassDriver interface {
	// ConfigurationDescriptors writes the driver's interface-level
	// descriptors into the configuration descriptor being built.
	ConfigurationDescriptors(w *DescriptorWriter) error

	// ControlOut is called for every host-to-device control transfer.
	ControlOut(xfer *ControlOut)

	// ControlIn is called for every device-to-host control transfer.
	ControlIn(xfer *ControlIn)

	// Reset is called when the stack detects a USB bus reset.
	Reset()

	// Poll is called each time the stack services its control endpoint.
	Poll()
}
