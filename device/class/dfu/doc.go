// Package dfu implements the USB Device Firmware Upgrade (DFU 1.1a)
// run-time class for the dfurt device stack.
//
// The run-time class is the part of DFU active during normal operation.
// It advertises DFU capability to the host and negotiates the switch into
// upgrade mode; the firmware transfer itself belongs to the DFU mode class
// of a bootloader and is not implemented here.
//
// # Architecture
//
// A run-time DFU function consists of:
//
//   - An interface association descriptor spanning one interface
//   - An interface descriptor (class 0xFE, subclass 0x01, protocol 0x01)
//     without endpoints
//   - A DFU functional descriptor announcing [Capabilities]
//
// [Runtime] answers the two class requests defined for run-time mode,
// DFU_DETACH and DFU_GETSTATUS, and rejects every other request addressed
// to its interface.
//
// # Detach Sequence
//
// An accepted DFU_DETACH moves the interface from appIDLE to appDETACH and
// starts a countdown of wDetachTimeOut milliseconds, advanced by
// [Runtime.Tick]. What happens next depends on [Capabilities.WillDetach]:
//
//   - WillDetach: the device leaves on its own when the countdown
//     expires, and [Ops.Detach] is invoked from Tick
//   - otherwise: the device waits for the host's bus reset, and
//     [Ops.Detach] is invoked from Reset; an expired countdown silently
//     returns the interface to appIDLE
//
// Detach performs the board-specific mode switch (for example, storing a
// magic value in memory that survives a software reset and rebooting into
// a bootloader). It usually does not return.
//
// # Usage
//
//	type board struct{}
//
//	func (board) Detach() { rebootToBootloader() }
//
//	rt, err := dfu.New(stack, board{})
//	if err != nil {
//	    return err
//	}
//	stack.AddClass(rt)
//	stack.Start(ctx)
//
//	for range time.Tick(time.Millisecond) {
//	    rt.Tick(1)
//	}
//
// Boards customize the advertised descriptor by implementing
// [CapabilityProvider], and can veto or clamp detach requests by
// implementing [Allower].
package dfu
