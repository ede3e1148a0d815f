package dfu

// Capabilities are the DFU attributes a device advertises in its
// functional descriptor. They are fixed for the lifetime of a [Runtime].
type Capabilities struct {
	// WillDetach reports that the device detaches and re-attaches on its
	// own after DFU_DETACH, without waiting for a bus reset.
	WillDetach bool

	// ManifestationTolerant reports that the device can still communicate
	// over USB after the manifestation phase.
	ManifestationTolerant bool

	// CanDownload and CanUpload advertise the transfer directions of the
	// DFU mode class.
	CanDownload bool
	CanUpload   bool

	// DetachTimeout is the time in milliseconds the device waits for a bus
	// reset after accepting DFU_DETACH.
	DetachTimeout uint16

	// TransferSize is the maximum number of bytes per DFU mode control
	// write.
	TransferSize uint16
}

// DefaultCapabilities returns the capabilities used when the device's
// [Ops] does not implement [CapabilityProvider].
func DefaultCapabilities() Capabilities {
	return Capabilities{
		WillDetach:            true,
		ManifestationTolerant: false,
		CanDownload:           true,
		CanUpload:             true,
		DetachTimeout:         255,
		TransferSize:          2048,
	}
}

// Attributes packs the boolean capabilities into bmAttributes.
func (c Capabilities) Attributes() uint8 {
	var attr uint8
	if c.WillDetach {
		attr |= AttrWillDetach
	}
	if c.ManifestationTolerant {
		attr |= AttrManifestationTolerant
	}
	if c.CanUpload {
		attr |= AttrCanUpload
	}
	if c.CanDownload {
		attr |= AttrCanDownload
	}
	return attr
}

// Ops is the device-specific side of a run-time DFU interface.
type Ops interface {
	// Detach switches the device into DFU mode, typically by rebooting
	// into a bootloader. It is not expected to return.
	Detach()
}

// Allower is implemented by an [Ops] that decides whether a DFU_DETACH
// request is honored.
//
// Allow receives the wDetachTimeOut requested by the host and returns the
// timeout to use, which may differ from the request, and whether the
// request is accepted. Without an Allower every request is accepted
// unmodified.
type Allower interface {
	Allow(timeout uint16) (uint16, bool)
}

// CapabilityProvider is implemented by an [Ops] that advertises
// capabilities other than [DefaultCapabilities].
type CapabilityProvider interface {
	Capabilities() Capabilities
}
