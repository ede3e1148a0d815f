package dfu

import (
	"fmt"
	"sync"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/pkg"
)

var _ device.ClassDriver = (*Runtime[Ops])(nil)

// Runtime is a run-time DFU interface driven by a [device.Stack].
//
// T is the device-specific [Ops]; it may additionally implement [Allower]
// and [CapabilityProvider]. The Runtime owns its ops value; use
// [Runtime.Ops] and [Runtime.ModifyOps] to reach device state held inside.
type Runtime[T Ops] struct {
	ops   T
	iface device.InterfaceNumber
	caps  Capabilities

	state      State
	pending    uint16
	hasPending bool
	detached   bool // Ops.Detach has been invoked

	mutex sync.Mutex
}

// New creates a run-time DFU interface, taking its interface number from
// alloc.
func New[T Ops](alloc device.Allocator, ops T) (*Runtime[T], error) {
	if alloc == nil {
		return nil, pkg.ErrInvalidParameter
	}

	iface, err := alloc.AllocateInterface()
	if err != nil {
		return nil, fmt.Errorf("allocate dfu interface: %w", err)
	}

	caps := DefaultCapabilities()
	if p, ok := any(ops).(CapabilityProvider); ok {
		caps = p.Capabilities()
	}

	pkg.LogDebug(pkg.ComponentDFU, "runtime created",
		"interface", iface,
		"attributes", fmt.Sprintf("0x%02X", caps.Attributes()),
		"detachTimeout", caps.DetachTimeout,
		"transferSize", caps.TransferSize)

	return &Runtime[T]{
		ops:   ops,
		iface: iface,
		caps:  caps,
		state: StateAppIdle,
	}, nil
}

// Interface returns the interface number of the DFU function.
func (r *Runtime[T]) Interface() device.InterfaceNumber {
	return r.iface
}

// Capabilities returns the advertised capabilities.
func (r *Runtime[T]) Capabilities() Capabilities {
	return r.caps
}

// State returns the current DFU state.
func (r *Runtime[T]) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// PendingTimeout returns the milliseconds left before the detach
// countdown expires, and whether a countdown is running.
func (r *Runtime[T]) PendingTimeout() (uint16, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.pending, r.hasPending
}

// Detached reports whether [Ops.Detach] has been invoked.
func (r *Runtime[T]) Detached() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.detached
}

// Ops returns the device-specific ops value.
func (r *Runtime[T]) Ops() T {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ops
}

// ModifyOps calls fn with a pointer to the owned ops value.
// fn must not call methods of r.
func (r *Runtime[T]) ModifyOps(fn func(ops *T)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	fn(&r.ops)
}

// ConfigurationDescriptors implements [device.ClassDriver].
func (r *Runtime[T]) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	return WriteDescriptors(w, r.iface, r.caps)
}

// ControlOut implements [device.ClassDriver]. Transfers not addressed to
// the DFU interface are left for other drivers.
func (r *Runtime[T]) ControlOut(xfer *device.ControlOut) {
	req := xfer.Request()
	if !req.IsClassInterface(r.iface) {
		return
	}

	switch req.Request {
	case RequestDetach:
		r.handleDetach(xfer, req.Value)
	default:
		pkg.LogDebug(pkg.ComponentDFU, "unsupported request rejected",
			"request", req.Request)
		xfer.Reject()
	}
}

// handleDetach handles DFU_DETACH.
func (r *Runtime[T]) handleDetach(xfer *device.ControlOut, requested uint16) {
	// The mode switch is absorbing: acknowledge without re-arming.
	if r.Detached() {
		pkg.LogDebug(pkg.ComponentDFU, "detach after mode switch ignored",
			"requested", requested)
		xfer.Accept()
		return
	}

	timeout, ok := r.allow(requested)
	if !ok {
		pkg.LogInfo(pkg.ComponentDFU, "detach refused",
			"requested", requested)
		xfer.Reject()
		return
	}

	r.mutex.Lock()
	if r.detached {
		r.mutex.Unlock()
		xfer.Accept()
		return
	}
	if !r.hasPending || timeout < r.pending {
		r.pending = timeout
	}
	r.hasPending = true
	r.state = StateAppDetach
	pending := r.pending
	r.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDFU, "detach accepted",
		"requested", requested,
		"timeout", pending)

	xfer.Accept()
}

// allow consults the ops' Allower, if any.
func (r *Runtime[T]) allow(timeout uint16) (uint16, bool) {
	a, ok := any(r.Ops()).(Allower)
	if !ok {
		return timeout, true
	}
	return a.Allow(timeout)
}

// ControlIn implements [device.ClassDriver]. Transfers not addressed to
// the DFU interface are left for other drivers.
func (r *Runtime[T]) ControlIn(xfer *device.ControlIn) {
	req := xfer.Request()
	if !req.IsClassInterface(r.iface) {
		return
	}

	switch req.Request {
	case RequestGetStatus:
		status := Status{Status: StatusOK, State: r.State()}
		var buf [StatusSize]byte
		status.MarshalTo(buf[:])
		if err := xfer.AcceptWith(buf[:]); err != nil {
			pkg.LogWarn(pkg.ComponentDFU, "status response failed",
				"error", err)
		}
	default:
		pkg.LogDebug(pkg.ComponentDFU, "unsupported request rejected",
			"request", req.Request)
		xfer.Reject()
	}
}

// Reset implements [device.ClassDriver]. A bus reset during the detach
// countdown of a device that does not detach on its own triggers
// [Ops.Detach].
func (r *Runtime[T]) Reset() {
	r.mutex.Lock()
	if r.caps.WillDetach || r.detached || !r.hasPending {
		r.mutex.Unlock()
		return
	}
	remaining := r.pending
	r.pending = 0
	r.hasPending = false
	r.detached = true
	ops := r.ops
	r.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDFU, "bus reset during detach, entering DFU mode",
		"remaining", remaining)

	ops.Detach()
}

// Poll implements [device.ClassDriver]. The detach countdown is advanced
// by Tick only.
func (r *Runtime[T]) Poll() {}

// Tick advances the detach countdown by elapsed milliseconds.
//
// When the countdown expires, a device that detaches on its own invokes
// [Ops.Detach]; any other device returns to appIDLE since the host did not
// reset the bus in time.
func (r *Runtime[T]) Tick(elapsed uint16) {
	r.mutex.Lock()
	if r.detached || !r.hasPending {
		r.mutex.Unlock()
		return
	}

	if elapsed < r.pending {
		r.pending -= elapsed
		r.mutex.Unlock()
		return
	}

	r.pending = 0
	r.hasPending = false

	if !r.caps.WillDetach {
		if !r.detached {
			r.state = StateAppIdle
		}
		r.mutex.Unlock()
		pkg.LogInfo(pkg.ComponentDFU, "detach timeout expired without bus reset")
		return
	}

	r.detached = true
	ops := r.ops
	r.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDFU, "detach timeout expired, entering DFU mode")

	ops.Detach()
}
