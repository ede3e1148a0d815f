package dfu

import (
	"github.com/ardnew/dfurt/device"
)

// DetachSetup initializes out as a DFU_DETACH request for interface iface
// asking the device to wait at most timeout milliseconds for a bus reset.
func DetachSetup(out *device.SetupPacket, iface device.InterfaceNumber, timeout uint16) {
	device.ClassInterfaceSetup(out, device.RequestDirectionHostToDevice,
		RequestDetach, timeout, iface, 0)
}

// GetStatusSetup initializes out as a DFU_GETSTATUS request for interface
// iface.
func GetStatusSetup(out *device.SetupPacket, iface device.InterfaceNumber) {
	device.ClassInterfaceSetup(out, device.RequestDirectionDeviceToHost,
		RequestGetStatus, 0, iface, StatusSize)
}
