package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/device/class/dfu"
	"github.com/ardnew/dfurt/pkg"
)

// addCapabilityFlags binds the DFU functional descriptor attributes to fs.
func addCapabilityFlags(fs *pflag.FlagSet, caps *dfu.Capabilities) {
	*caps = dfu.DefaultCapabilities()

	fs.BoolVar(&caps.WillDetach, "will-detach", caps.WillDetach, "Device detaches on its own after DFU_DETACH")
	fs.BoolVar(&caps.ManifestationTolerant, "manifestation-tolerant", caps.ManifestationTolerant, "Device stays on the bus after manifestation")
	fs.BoolVar(&caps.CanDownload, "can-download", caps.CanDownload, "Advertise DFU download")
	fs.BoolVar(&caps.CanUpload, "can-upload", caps.CanUpload, "Advertise DFU upload")
	fs.Uint16Var(&caps.DetachTimeout, "detach-timeout", caps.DetachTimeout, "Advertised wDetachTimeOut in milliseconds")
	fs.Uint16Var(&caps.TransferSize, "transfer-size", caps.TransferSize, "Advertised wTransferSize in bytes")
}

// simDeviceDescriptor is the device descriptor of the simulated board.
func simDeviceDescriptor() *device.DeviceDescriptor {
	return &device.DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       device.ClassMisc,
		DeviceSubClass:    device.SubClassCommon,
		DeviceProtocol:    device.ProtocolIAD,
		MaxPacketSize0:    64,
		VendorID:          0x1209, // pid.codes
		ProductID:         0x0001,
		DeviceVersion:     0x0100,
		NumConfigurations: 1,
	}
}

// descriptorName returns a short label for a descriptor type.
func descriptorName(descType uint8) string {
	switch descType {
	case device.DescriptorTypeConfiguration:
		return "configuration"
	case device.DescriptorTypeInterface:
		return "interface"
	case device.DescriptorTypeInterfaceAssociation:
		return "association"
	case dfu.DescriptorTypeFunc:
		return "dfu-functional"
	default:
		return fmt.Sprintf("type-0x%02x", descType)
	}
}

// walkDescriptors calls fn for each descriptor in a configuration blob.
func walkDescriptors(data []byte, fn func(desc []byte) error) error {
	for len(data) > 0 {
		length := int(data[0])
		if length < 2 || length > len(data) {
			return fmt.Errorf("descriptor at length %d: %w", length, pkg.ErrDescriptorTooShort)
		}
		if err := fn(data[:length]); err != nil {
			return err
		}
		data = data[length:]
	}
	return nil
}

// findDFUFunction locates the run-time DFU interface and its functional
// descriptor in a configuration blob.
func findDFUFunction(cfg []byte) (device.InterfaceNumber, dfu.FunctionalDescriptor, error) {
	var (
		iface   device.InterfaceNumber
		inDFU   bool
		dfuMode bool
		found   bool
		funcDes dfu.FunctionalDescriptor
	)

	err := walkDescriptors(cfg, func(desc []byte) error {
		switch desc[1] {
		case device.DescriptorTypeInterface:
			var id device.InterfaceDescriptor
			if err := device.ParseInterfaceDescriptor(desc, &id); err != nil {
				return err
			}
			isDFU := id.InterfaceClass == dfu.ClassDFU &&
				id.InterfaceSubClass == dfu.SubclassDFU
			inDFU = isDFU && id.InterfaceProtocol == dfu.ProtocolRuntime
			if isDFU && id.InterfaceProtocol == dfu.ProtocolDFUMode {
				dfuMode = true
			}
			if inDFU {
				iface = device.InterfaceNumber(id.InterfaceNumber)
			}
		case dfu.DescriptorTypeFunc:
			if inDFU && !found {
				if err := dfu.ParseFunctionalDescriptor(desc, &funcDes); err != nil {
					return err
				}
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, funcDes, err
	}
	if !found && dfuMode {
		return 0, funcDes, fmt.Errorf("device already in DFU mode: %w", pkg.ErrNotSupported)
	}
	if !found {
		return 0, funcDes, fmt.Errorf("no run-time DFU function: %w", pkg.ErrNotSupported)
	}
	return iface, funcDes, nil
}
