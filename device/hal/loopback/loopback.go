package loopback

import (
	"context"
	"sync"

	"github.com/ardnew/dfurt/device/hal"
	"github.com/ardnew/dfurt/pkg"
)

// MaxDataSize is the largest data stage carried in either direction.
const MaxDataSize = 512

// Message types exchanged between host and device.
const (
	msgSetup = 0x01 // SETUP packet from host, with OUT data
	msgAck   = 0x03 // Status ACK from device, with IN data
	msgStall = 0x05 // STALL from device
	msgReset = 0x12 // Bus reset from host
)

// queueDepth bounds the number of undelivered messages per direction.
const queueDepth = 4

type message struct {
	kind  uint8
	seq   uint32
	setup hal.SetupPacket
	data  []byte
}

// HAL implements hal.DeviceHAL over in-process channels.
type HAL struct {
	toDevice chan message
	toHost   chan message

	connectCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	mutex    sync.Mutex
	initDone bool
	started  bool
	address  uint8

	// Current control transfer, owned by the device's control loop
	seq     uint32
	outData [MaxDataSize]byte
	outLen  int
	inData  [MaxDataSize]byte
	inLen   int

	host Host
}

// New creates an unconnected loopback HAL.
func New() *HAL {
	h := &HAL{
		toDevice:  make(chan message, queueDepth),
		toHost:    make(chan message, queueDepth),
		connectCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
	h.host.hal = h
	return h
}

// Host returns the host-side handle of the loopback pair.
func (h *HAL) Host() *Host {
	return &h.host
}

// Init prepares the HAL. A HAL can be initialized once.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.initDone = true

	pkg.LogDebug(pkg.ComponentHAL, "loopback device HAL initialized")
	return nil
}

// Start attaches the device and signals the host.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initDone {
		return pkg.ErrNotConfigured
	}
	if h.started {
		return pkg.ErrAlreadyRunning
	}
	h.started = true
	close(h.connectCh)

	pkg.LogInfo(pkg.ComponentHAL, "loopback device HAL started")
	return nil
}

// Stop detaches the device. Pending and future operations on both sides
// fail with [pkg.ErrNotRunning].
func (h *HAL) Stop() error {
	h.closeOnce.Do(func() {
		close(h.closeCh)
	})

	h.mutex.Lock()
	h.started = false
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "loopback device HAL stopped")
	return nil
}

// SetAddress records the device address for [Host.Address].
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// ReadSetup blocks until the host sends a SETUP packet or a bus reset.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrNotRunning
	case msg := <-h.toDevice:
		if msg.kind == msgReset {
			h.mutex.Lock()
			h.address = 0
			h.mutex.Unlock()
			return pkg.ErrReset
		}
		h.seq = msg.seq
		h.outLen = copy(h.outData[:], msg.data)
		h.inLen = 0
		*out = msg.setup
		return nil
	}
}

// WriteEP0 stages the IN data stage; it is delivered with the ACK.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	if len(data) > len(h.inData) {
		return pkg.ErrBufferTooSmall
	}
	h.inLen = copy(h.inData[:], data)
	return nil
}

// ReadEP0 copies the OUT data stage that arrived with the SETUP packet.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	return copy(buf, h.outData[:h.outLen]), nil
}

// StallEP0 rejects the current control transfer.
func (h *HAL) StallEP0() error {
	return h.reply(message{kind: msgStall, seq: h.seq})
}

// AckEP0 completes the current control transfer.
func (h *HAL) AckEP0() error {
	msg := message{kind: msgAck, seq: h.seq}
	if h.inLen > 0 {
		msg.data = append([]byte(nil), h.inData[:h.inLen]...)
	}
	return h.reply(msg)
}

func (h *HAL) reply(msg message) error {
	select {
	case <-h.closeCh:
		return pkg.ErrNotRunning
	default:
	}

	select {
	case <-h.closeCh:
		return pkg.ErrNotRunning
	case h.toHost <- msg:
		return nil
	}
}
