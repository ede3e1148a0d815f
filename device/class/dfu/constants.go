package dfu

import (
	"github.com/ardnew/dfurt/device"
)

// DFU interface class codes (DFU 1.1 section 4.1).
const (
	ClassDFU           = device.ClassAppSpecific // Application Specific Class
	SubclassDFU        = 0x01                    // Device Firmware Upgrade
	ProtocolRuntime    = 0x01                    // Run-time protocol
	ProtocolDFUMode    = 0x02                    // DFU mode protocol, announced by the bootloader
	DescriptorTypeFunc = 0x21                    // DFU functional descriptor
)

// DFU functional descriptor bmAttributes bits (DFU 1.1 section 4.1.3).
const (
	AttrCanDownload           = 1 << 0 // bitCanDnload
	AttrCanUpload             = 1 << 1 // bitCanUpload
	AttrManifestationTolerant = 1 << 2 // bitManifestationTolerant
	AttrWillDetach            = 1 << 3 // bitWillDetach
)

// DFU class request codes (DFU 1.1 section 3). The run-time interface
// serves DETACH and GETSTATUS and rejects the rest.
const (
	RequestDetach    = 0x00
	RequestDownload  = 0x01
	RequestUpload    = 0x02
	RequestGetStatus = 0x03
	RequestClrStatus = 0x04
	RequestGetState  = 0x05
	RequestAbort     = 0x06
)

// StatusOK is the bStatus value reporting no error condition.
const StatusOK = 0x00

// Version is the bcdDFUVersion advertised in the functional descriptor.
const Version = 0x011A
