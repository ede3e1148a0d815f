// Package hal defines the Hardware Abstraction Layer interface for the
// device stack's control endpoint.
//
// The HAL provides a platform-agnostic interface between the device stack and
// the USB controller. Platform vendors implement [DeviceHAL] to run the stack
// on their hardware; the stack implements all USB protocol logic.
//
// # Interface Overview
//
//   - Initialization and lifecycle management
//   - SETUP reception, with bus resets reported as an error from ReadSetup
//   - Control data stages (WriteEP0, ReadEP0) and the status stage (AckEP0)
//   - Request rejection (StallEP0)
//
// # Zero-Allocation Design
//
// HAL implementations should reuse buffers provided by the stack and avoid
// allocations on the control path.
//
// An in-memory HAL for tests and simulation is available in
// [github.com/ardnew/dfurt/device/hal/loopback].
package hal
