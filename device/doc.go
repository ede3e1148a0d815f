// Package device implements a small pure-Go USB 2.0 device stack centered
// on the default control endpoint.
//
// It is platform-agnostic and interacts with hardware via the
// [hal.DeviceHAL] interface defined in the [github.com/ardnew/dfurt/device/hal]
// package.
//
// # Architecture
//
//   - [Stack] answers standard requests, builds the configuration
//     descriptor and dispatches everything else to class drivers
//   - [ClassDriver] is implemented by USB classes; drivers receive their
//     interface numbers from an [Allocator] (the stack itself)
//   - [ControlOut] and [ControlIn] carry one control transfer each and
//     record the first driver decision (accept or reject)
//   - [DescriptorWriter] appends class descriptors to a caller buffer
//
// # Device States
//
// The stack tracks the USB 2.0 device states reachable over EP0:
//
//	Default → Address → Configured
//
// A bus reset returns the device to Default and is forwarded to every
// class driver through [ClassDriver.Reset].
//
// # Zero-Allocation Design
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for class drivers and control buffers
//
// # Example
//
//	stack := device.NewStack(&device.DeviceDescriptor{
//	    USBVersion:     0x0200,
//	    VendorID:       0xCAFE,
//	    ProductID:      0xBABE,
//	    MaxPacketSize0: 64,
//	}, h)
//	rt, err := dfu.New(stack, board)
//	if err != nil {
//	    return err
//	}
//	stack.AddClass(rt)
//	stack.Start(ctx)
//
// An in-memory HAL for testing is available in
// [github.com/ardnew/dfurt/device/hal/loopback].
package device
