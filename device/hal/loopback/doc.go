// Package loopback implements an in-memory HAL for USB device stacks.
//
// The device side ([HAL]) satisfies [hal.DeviceHAL]; the host side
// ([Host]) issues control transfers and bus resets against it. Both run
// in the same process and exchange messages over channels, which makes
// the pair suitable for unit tests and simulations of class drivers
// without hardware or filesystem setup.
//
// # Protocol
//
// Every host request is a single message:
//
//   - SETUP: the 8-byte SETUP packet plus the OUT data stage, if any
//   - RESET: a USB bus reset
//
// The device answers each SETUP with either an ACK (carrying the IN data
// stage written through WriteEP0) or a STALL. Messages carry a sequence
// number so a host that gave up on a request never mistakes a late answer
// for the reply to a newer one.
//
// # Usage
//
//	h := loopback.New()
//	stack := device.NewStack(desc, h)
//	stack.Start(ctx)
//
//	host := h.Host()
//	<-host.Connected()
//	resp, err := host.Control(ctx, &setup, nil)
package loopback
