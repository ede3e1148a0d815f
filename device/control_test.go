package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/dfurt/pkg"
)

func TestControlResult_String(t *testing.T) {
	tests := []struct {
		result ControlResult
		want   string
	}{
		{ControlPending, "pending"},
		{ControlAccepted, "accepted"},
		{ControlRejected, "rejected"},
		{ControlResult(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.result.String(); got != tt.want {
			t.Errorf("ControlResult(%d).String() = %q, want %q", tt.result, got, tt.want)
		}
	}
}

func TestControlOut_FirstDecisionWins(t *testing.T) {
	var setup SetupPacket
	ClassInterfaceSetup(&setup, RequestDirectionHostToDevice, 0x00, 10, 0, 0)

	x := NewControlOut(&setup, []byte{1, 2})
	if x.Handled() {
		t.Fatal("new transfer should not be handled")
	}
	if !bytes.Equal(x.Data(), []byte{1, 2}) {
		t.Errorf("Data() = %v, want [1 2]", x.Data())
	}
	if x.Request().Value != 10 {
		t.Errorf("Request().Value = %d, want 10", x.Request().Value)
	}

	x.Accept()
	x.Reject()
	if x.Result() != ControlAccepted {
		t.Errorf("Result() = %v, want %v", x.Result(), ControlAccepted)
	}

	y := NewControlOut(&setup, nil)
	y.Reject()
	y.Accept()
	if y.Result() != ControlRejected {
		t.Errorf("Result() = %v, want %v", y.Result(), ControlRejected)
	}
}

func TestControlIn_AcceptWith(t *testing.T) {
	tests := []struct {
		name   string
		length uint16
		data   []byte
		want   []byte
	}{
		{"exact", 3, []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"truncated", 2, []byte{1, 2, 3}, []byte{1, 2}},
		{"short", 8, []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"empty", 0, []byte{1, 2, 3}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var setup SetupPacket
			ClassInterfaceSetup(&setup, RequestDirectionDeviceToHost, 0x03, 0, 0, tt.length)

			x := NewControlIn(&setup)
			if err := x.AcceptWith(tt.data); err != nil {
				t.Fatalf("AcceptWith() error = %v", err)
			}
			if x.Result() != ControlAccepted {
				t.Errorf("Result() = %v, want %v", x.Result(), ControlAccepted)
			}
			if !bytes.Equal(x.Response(), tt.want) {
				t.Errorf("Response() = %v, want %v", x.Response(), tt.want)
			}
		})
	}
}

func TestControlIn_AcceptWithTooLarge(t *testing.T) {
	var setup SetupPacket
	ClassInterfaceSetup(&setup, RequestDirectionDeviceToHost, 0x03, 0, 0, 0xFFFF)

	x := NewControlIn(&setup)
	err := x.AcceptWith(make([]byte, MaxControlDataSize+1))
	if !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("AcceptWith() error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	if x.Result() != ControlRejected {
		t.Errorf("Result() = %v, want %v", x.Result(), ControlRejected)
	}
}

func TestControlIn_RejectThenAccept(t *testing.T) {
	var setup SetupPacket
	ClassInterfaceSetup(&setup, RequestDirectionDeviceToHost, 0x03, 0, 0, 6)

	x := NewControlIn(&setup)
	x.Reject()
	if err := x.AcceptWith([]byte{1}); err != nil {
		t.Errorf("AcceptWith() error = %v, want nil", err)
	}
	if x.Result() != ControlRejected {
		t.Errorf("Result() = %v, want %v", x.Result(), ControlRejected)
	}
	if len(x.Response()) != 0 {
		t.Errorf("Response() = %v, want empty", x.Response())
	}
}

func TestInterfaceAllocator(t *testing.T) {
	var a InterfaceAllocator

	for i := 0; i < MaxInterfacesPerConfiguration; i++ {
		num, err := a.AllocateInterface()
		if err != nil {
			t.Fatalf("AllocateInterface() #%d error = %v", i, err)
		}
		if num != InterfaceNumber(i) {
			t.Errorf("AllocateInterface() #%d = %d, want %d", i, num, i)
		}
	}

	if _, err := a.AllocateInterface(); !errors.Is(err, pkg.ErrNoMemory) {
		t.Errorf("AllocateInterface() past limit error = %v, want %v", err, pkg.ErrNoMemory)
	}
	if a.Count() != MaxInterfacesPerConfiguration {
		t.Errorf("Count() = %d, want %d", a.Count(), MaxInterfacesPerConfiguration)
	}
}
