package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/dfurt/device/hal"
	"github.com/ardnew/dfurt/pkg"
)

// Host is the host-side end of a loopback HAL.
// Control transfers are serialized; a Host is safe for concurrent use.
type Host struct {
	hal   *HAL
	mutex sync.Mutex
	seq   uint32
}

// Connected returns a channel closed once the device has started.
func (x *Host) Connected() <-chan struct{} {
	return x.hal.connectCh
}

// Address returns the address most recently assigned to the device.
func (x *Host) Address() uint8 {
	x.hal.mutex.Lock()
	defer x.hal.mutex.Unlock()
	return x.hal.address
}

// Control performs a control transfer. data is the OUT data stage for
// host-to-device requests and is ignored otherwise.
//
// Returns the IN data stage, [pkg.ErrStall] if the device stalled the
// request, or [pkg.ErrNotRunning] once the device has stopped. A transfer
// ended by ctx fails with [pkg.ErrTimeout] or [pkg.ErrCancelled] wrapping
// the context error.
func (x *Host) Control(ctx context.Context, setup *hal.SetupPacket, data []byte) ([]byte, error) {
	if setup.IsDeviceToHost() {
		data = nil
	} else if len(data) > int(setup.Length) || len(data) > MaxDataSize {
		return nil, pkg.ErrInvalidParameter
	}

	x.mutex.Lock()
	defer x.mutex.Unlock()

	x.seq++
	msg := message{kind: msgSetup, seq: x.seq, setup: *setup}
	if len(data) > 0 {
		msg.data = append([]byte(nil), data...)
	}
	if err := x.send(ctx, msg); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, transferError(ctx.Err())
		case <-x.hal.closeCh:
			return nil, pkg.ErrNotRunning
		case resp := <-x.hal.toHost:
			if resp.seq != x.seq {
				pkg.LogDebug(pkg.ComponentHAL, "discarding stale reply",
					"seq", resp.seq,
					"want", x.seq)
				continue
			}
			switch resp.kind {
			case msgAck:
				return resp.data, nil
			case msgStall:
				return nil, pkg.TransferStatusStall.Error()
			default:
				return nil, pkg.TransferStatusError.Error()
			}
		}
	}
}

// BusReset drives a USB bus reset.
func (x *Host) BusReset(ctx context.Context) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "bus reset")
	return x.send(ctx, message{kind: msgReset})
}

func (x *Host) send(ctx context.Context, msg message) error {
	select {
	case <-x.hal.closeCh:
		return pkg.ErrNotRunning
	default:
	}

	select {
	case <-ctx.Done():
		return transferError(ctx.Err())
	case <-x.hal.closeCh:
		return pkg.ErrNotRunning
	case x.hal.toDevice <- msg:
		return nil
	}
}

// transferError maps the context error that ended a transfer to its
// transfer status.
func transferError(err error) error {
	status := pkg.TransferStatusCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		status = pkg.TransferStatusTimeout
	}
	return fmt.Errorf("%w: %w", status.Error(), err)
}
