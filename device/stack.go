package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/dfurt/device/hal"
	"github.com/ardnew/dfurt/pkg"
)

// Configuration descriptor header values.
const (
	configAttributes = ConfigAttrBusPowered
	configMaxPower   = 50 // 100 mA
)

// Stack manages the USB device stack.
//
// A Stack serves a single configuration assembled from its registered
// class drivers. Standard requests are answered by the stack itself; every
// other control transfer is offered to each class driver in registration
// order until one of them decides it.
type Stack struct {
	descriptor DeviceDescriptor
	hal        hal.DeviceHAL
	alloc      InterfaceAllocator

	classes    [MaxClasses]ClassDriver
	numClasses int

	// USB device state
	state         State
	address       uint8
	configuration uint8

	running bool
	mutex   sync.RWMutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// dispatch serializes class driver callbacks and guards the reusable
	// buffers below.
	dispatch    sync.Mutex
	in          ControlIn
	out         ControlOut
	responseBuf [MaxDescriptorResponseSize]byte

	// Owned by the control loop
	setupBuf   hal.SetupPacket
	ep0ReadBuf [MaxControlDataSize]byte

	onReset func()
}

// NewStack creates a new device stack for the given device descriptor.
// h may be nil when the stack is driven directly through [Stack.HandleSetup].
func NewStack(desc *DeviceDescriptor, h hal.DeviceHAL) *Stack {
	s := &Stack{hal: h}
	if desc != nil {
		s.descriptor = *desc
	}
	if s.descriptor.NumConfigurations == 0 {
		s.descriptor.NumConfigurations = 1
	}
	return s
}

// AllocateInterface issues the next interface number of the configuration.
// Class drivers receive the stack as their [Allocator].
func (s *Stack) AllocateInterface() (InterfaceNumber, error) {
	return s.alloc.AllocateInterface()
}

// AddClass registers a class driver.
// Drivers are consulted in the order they were added.
func (s *Stack) AddClass(driver ClassDriver) error {
	if driver == nil {
		return pkg.ErrInvalidParameter
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.numClasses >= MaxClasses {
		return pkg.ErrNoMemory
	}
	s.classes[s.numClasses] = driver
	s.numClasses++

	pkg.LogDebug(pkg.ComponentStack, "class driver added",
		"index", s.numClasses-1,
		"driver", fmt.Sprintf("%T", driver))

	return nil
}

// snapshotClasses copies the registered drivers so callbacks run without
// holding the state mutex.
func (s *Stack) snapshotClasses(out *[MaxClasses]ClassDriver) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copy(out[:], s.classes[:s.numClasses])
}

// ConfigurationDescriptorTo writes the complete configuration descriptor
// (header followed by every class driver's descriptors) into buf.
// Returns the number of bytes written.
func (s *Stack) ConfigurationDescriptorTo(buf []byte) (int, error) {
	if len(buf) < ConfigurationDescriptorSize {
		return 0, pkg.ErrBufferTooSmall
	}

	var classes [MaxClasses]ClassDriver
	n := s.snapshotClasses(&classes)

	w := DescriptorWriter{buf: buf[ConfigurationDescriptorSize:]}
	for i := 0; i < n; i++ {
		if err := classes[i].ConfigurationDescriptors(&w); err != nil {
			return 0, fmt.Errorf("class %d descriptors: %w", i, err)
		}
	}

	total := ConfigurationDescriptorSize + w.Len()
	cfg := ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      w.NumInterfaces(),
		ConfigurationValue: ConfigurationValue,
		Attributes:         configAttributes,
		MaxPower:           configMaxPower,
	}
	cfg.MarshalTo(buf)

	return total, nil
}

// HandleSetup processes a single control transfer.
//
// data is the OUT data stage for host-to-device requests. For
// device-to-host requests the returned slice is the IN data stage; it
// references a buffer owned by the stack and is only valid until the next
// call. A non-nil error means the transfer must be stalled: [pkg.ErrStall]
// when a class driver rejected it, [pkg.ErrInvalidRequest] when nothing
// recognized it.
func (s *Stack) HandleSetup(setup *SetupPacket, data []byte) ([]byte, error) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	if setup.IsStandard() {
		resp, err := s.handleStandard(setup)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, pkg.ErrInvalidRequest) {
			return nil, err
		}
		// Unknown standard requests may still belong to a class driver.
	}

	return s.handleClass(setup, data)
}

// handleClass offers a transfer to each class driver until one decides it.
func (s *Stack) handleClass(setup *SetupPacket, data []byte) ([]byte, error) {
	var classes [MaxClasses]ClassDriver
	n := s.snapshotClasses(&classes)

	var result ControlResult
	if setup.IsDeviceToHost() {
		s.in.reset(setup)
		for i := 0; i < n && !s.in.Handled(); i++ {
			classes[i].ControlIn(&s.in)
		}
		result = s.in.Result()
		if result == ControlAccepted {
			return s.in.Response(), nil
		}
	} else {
		s.out.reset(setup, data)
		for i := 0; i < n && !s.out.Handled(); i++ {
			classes[i].ControlOut(&s.out)
		}
		result = s.out.Result()
		if result == ControlAccepted {
			return nil, nil
		}
	}

	if result == ControlRejected {
		return nil, pkg.ErrStall
	}
	return nil, pkg.ErrInvalidRequest
}

// Reset returns the device to the Default state after a bus reset and
// notifies every class driver.
func (s *Stack) Reset() {
	s.mutex.Lock()
	s.state = StateDefault
	s.address = 0
	s.configuration = 0
	cb := s.onReset
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "bus reset")

	s.dispatch.Lock()
	var classes [MaxClasses]ClassDriver
	n := s.snapshotClasses(&classes)
	for i := 0; i < n; i++ {
		classes[i].Reset()
	}
	s.dispatch.Unlock()

	if cb != nil {
		cb()
	}
}

// Poll gives every class driver a chance to run deferred work.
// The control loop calls it after each SETUP packet and bus reset.
func (s *Stack) Poll() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	var classes [MaxClasses]ClassDriver
	n := s.snapshotClasses(&classes)
	for i := 0; i < n; i++ {
		classes[i].Poll()
	}
}

// State returns the USB device state.
func (s *Stack) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Address returns the device address assigned by the host.
func (s *Stack) Address() uint8 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.address
}

// Configuration returns the active configuration value (0 if unconfigured).
func (s *Stack) Configuration() uint8 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.configuration
}

// IsConfigured returns true if the host has selected the configuration.
func (s *Stack) IsConfigured() bool {
	return s.State() == StateConfigured
}

// SetOnReset sets the callback invoked after a bus reset has been handled.
func (s *Stack) SetOnReset(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onReset = cb
}

// Start initializes the HAL and starts servicing the control endpoint on
// a new goroutine.
func (s *Stack) Start(ctx context.Context) error {
	if s.hal == nil {
		return pkg.ErrInvalidParameter
	}

	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	loopCtx, done := s.ctx, s.done
	s.mutex.Unlock()

	if err := s.hal.Init(loopCtx); err != nil {
		s.abortStart()
		return fmt.Errorf("init hal: %w", err)
	}

	if err := s.hal.Start(); err != nil {
		s.abortStart()
		return fmt.Errorf("start hal: %w", err)
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack started")

	go s.controlLoop(loopCtx, done)

	return nil
}

func (s *Stack) abortStart() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.running = false
	s.cancel()
	close(s.done)
}

// Stop cancels the control loop and detaches the HAL from the bus.
// Stop does not wait for the loop to exit; use [Stack.Done] for that.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}

	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mutex.Unlock()

	if err := s.hal.Stop(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Done returns a channel closed when the control loop started by the
// most recent [Stack.Start] exits. It returns nil before the first Start.
func (s *Stack) Done() <-chan struct{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.done
}

// controlLoop handles control transfers on EP0.
func (s *Stack) controlLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := s.hal.ReadSetup(ctx, &s.setupBuf); err != nil {
			if ctx.Err() != nil || errors.Is(err, pkg.ErrNotRunning) {
				return
			}
			if errors.Is(err, pkg.ErrReset) {
				s.Reset()
				s.Poll()
				continue
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup",
				"error", err)
			continue
		}

		setup := SetupPacket{
			RequestType: s.setupBuf.RequestType,
			Request:     s.setupBuf.Request,
			Value:       s.setupBuf.Value,
			Index:       s.setupBuf.Index,
			Length:      s.setupBuf.Length,
		}

		if err := s.serviceSetup(ctx, &setup); err != nil {
			if ctx.Err() != nil {
				return
			}
			pkg.LogDebug(pkg.ComponentStack, "stalling request",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "stall failed",
					"error", err)
			}
		}

		s.Poll()
	}
}

// serviceSetup runs the data and status stages around HandleSetup.
func (s *Stack) serviceSetup(ctx context.Context, setup *SetupPacket) error {
	var data []byte
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		n, err := s.hal.ReadEP0(ctx, s.ep0ReadBuf[:min(int(setup.Length), MaxControlDataSize)])
		if err != nil {
			return err
		}
		data = s.ep0ReadBuf[:n]
	}

	resp, err := s.HandleSetup(setup, data)
	if err != nil {
		return err
	}

	if setup.IsDeviceToHost() {
		if err := s.hal.WriteEP0(ctx, resp); err != nil {
			return err
		}
	}
	return s.hal.AckEP0()
}
