package main

import (
	"sync"

	"github.com/ardnew/dfurt/device/class/dfu"
	"github.com/ardnew/dfurt/pkg"
)

// magicJumpBootloader is the value the pre-main hook looks for in the
// reserved memory cell after a software reset.
const magicJumpBootloader = 0xDEADBEEF

// board simulates the firmware side of a DFU run-time device: a memory
// cell left uninitialized by the runtime, the reset-cause register, and
// the reset line itself.
type board struct {
	caps dfu.Capabilities

	// Detach timeout policy
	limit   uint16
	limited bool

	mutex         sync.Mutex
	magic         uint32
	softwareReset bool

	reboot     chan struct{}
	rebootOnce sync.Once
}

func newBoard(caps dfu.Capabilities) *board {
	return &board{
		caps:   caps,
		reboot: make(chan struct{}),
	}
}

// setLimit clamps accepted detach timeouts to limit; 0 refuses DETACH.
func (b *board) setLimit(limit uint16) {
	b.limit = limit
	b.limited = true
}

// Capabilities implements dfu.CapabilityProvider.
func (b *board) Capabilities() dfu.Capabilities {
	return b.caps
}

// Allow implements dfu.Allower.
func (b *board) Allow(timeout uint16) (uint16, bool) {
	if !b.limited {
		return timeout, true
	}
	if b.limit == 0 {
		return 0, false
	}
	return min(timeout, b.limit), true
}

// Detach implements dfu.Ops. On hardware it never returns; here it
// arms the magic cell and pulls the reset line.
func (b *board) Detach() {
	b.mutex.Lock()
	b.magic = magicJumpBootloader
	b.softwareReset = true
	b.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDevice, "software reset requested")

	b.rebootOnce.Do(func() {
		close(b.reboot)
	})
}

// Rebooted returns a channel closed once the board has reset itself.
func (b *board) Rebooted() <-chan struct{} {
	return b.reboot
}

// preMain runs first after reset, before memory is initialized. It
// reports whether control transfers to the bootloader.
func (b *board) preMain() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.softwareReset || b.magic != magicJumpBootloader {
		return false
	}
	// Clear the cell so the next reset boots the application again.
	b.magic = 0
	return true
}
