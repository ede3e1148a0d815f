package dfu

import (
	"encoding/binary"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/pkg"
)

// FunctionalDescriptorSize is the size of the DFU functional descriptor.
const FunctionalDescriptorSize = 9

// FunctionalDescriptor is the DFU functional descriptor.
type FunctionalDescriptor struct {
	Length         uint8  // Size of this descriptor (9)
	DescriptorType uint8  // DFU functional (0x21)
	Attributes     uint8  // bmAttributes
	DetachTimeout  uint16 // wDetachTimeOut in milliseconds
	TransferSize   uint16 // wTransferSize in bytes
	DFUVersion     uint16 // bcdDFUVersion
}

// NewFunctionalDescriptor returns the functional descriptor advertising caps.
func NewFunctionalDescriptor(caps Capabilities) FunctionalDescriptor {
	return FunctionalDescriptor{
		Length:         FunctionalDescriptorSize,
		DescriptorType: DescriptorTypeFunc,
		Attributes:     caps.Attributes(),
		DetachTimeout:  caps.DetachTimeout,
		TransferSize:   caps.TransferSize,
		DFUVersion:     Version,
	}
}

// MarshalTo writes the functional descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *FunctionalDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < FunctionalDescriptorSize {
		return 0
	}
	buf[0] = FunctionalDescriptorSize
	buf[1] = DescriptorTypeFunc
	d.marshalBody(buf[2:])
	return FunctionalDescriptorSize
}

func (d *FunctionalDescriptor) marshalBody(buf []byte) {
	buf[0] = d.Attributes
	binary.LittleEndian.PutUint16(buf[1:3], d.DetachTimeout)
	binary.LittleEndian.PutUint16(buf[3:5], d.TransferSize)
	binary.LittleEndian.PutUint16(buf[5:7], d.DFUVersion)
}

// ParseFunctionalDescriptor parses a DFU functional descriptor from bytes
// into out.
func ParseFunctionalDescriptor(data []byte, out *FunctionalDescriptor) error {
	if len(data) < FunctionalDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeFunc {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.Attributes = data[2]
	out.DetachTimeout = binary.LittleEndian.Uint16(data[3:5])
	out.TransferSize = binary.LittleEndian.Uint16(data[5:7])
	out.DFUVersion = binary.LittleEndian.Uint16(data[7:9])
	return nil
}

// Capabilities returns the capabilities encoded in the descriptor.
func (d *FunctionalDescriptor) Capabilities() Capabilities {
	return Capabilities{
		WillDetach:            d.Attributes&AttrWillDetach != 0,
		ManifestationTolerant: d.Attributes&AttrManifestationTolerant != 0,
		CanUpload:             d.Attributes&AttrCanUpload != 0,
		CanDownload:           d.Attributes&AttrCanDownload != 0,
		DetachTimeout:         d.DetachTimeout,
		TransferSize:          d.TransferSize,
	}
}

// WriteDescriptors appends the run-time DFU function for interface iface:
// an interface association, the interface and the functional descriptor.
//
// The only error is the writer running out of space, which is returned
// unchanged.
func WriteDescriptors(w *device.DescriptorWriter, iface device.InterfaceNumber, caps Capabilities) error {
	if err := w.IAD(iface, 1, ClassDFU, SubclassDFU, ProtocolRuntime); err != nil {
		return err
	}
	if err := w.Interface(iface, ClassDFU, SubclassDFU, ProtocolRuntime); err != nil {
		return err
	}

	var body [FunctionalDescriptorSize - 2]byte
	desc := NewFunctionalDescriptor(caps)
	desc.marshalBody(body[:])
	return w.Write(DescriptorTypeFunc, body[:])
}
