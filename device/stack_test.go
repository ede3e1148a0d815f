package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/dfurt/device/hal"
	"github.com/ardnew/dfurt/pkg"
)

// mockHAL implements hal.DeviceHAL for testing.
type mockHAL struct {
	initCalled  bool
	startCalled bool
	stopCalled  bool
	initErr     error

	// Each item is either a SETUP packet or a bus reset (nil).
	setupPackets chan *hal.SetupPacket
	outData      chan []byte
	events       chan string

	mutex   sync.Mutex
	address uint8
	written [][]byte
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		setupPackets: make(chan *hal.SetupPacket, 10),
		outData:      make(chan []byte, 10),
		events:       make(chan string, 10),
	}
}

func (m *mockHAL) Init(ctx context.Context) error {
	m.initCalled = true
	return m.initErr
}

func (m *mockHAL) Start() error {
	m.startCalled = true
	return nil
}

func (m *mockHAL) Stop() error {
	m.stopCalled = true
	return nil
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.mutex.Lock()
	m.address = address
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case setup := <-m.setupPackets:
		if setup == nil {
			return pkg.ErrReset
		}
		*out = *setup
		return nil
	}
}

func (m *mockHAL) WriteEP0(ctx context.Context, data []byte) error {
	m.mutex.Lock()
	m.written = append(m.written, append([]byte{}, data...))
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case data := <-m.outData:
		return copy(buf, data), nil
	}
}

func (m *mockHAL) StallEP0() error {
	m.events <- "stall"
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.events <- "ack"
	return nil
}

func (m *mockHAL) lastWritten() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.written) == 0 {
		return nil
	}
	return m.written[len(m.written)-1]
}

// mockClass implements ClassDriver for testing.
type mockClass struct {
	iface    InterfaceNumber
	request  uint8
	reject   bool
	response []byte

	mutex   sync.Mutex
	outData []byte
	outs    int
	ins     int
	resets  int
	polls   int
}

func newMockClass(t *testing.T, alloc Allocator, request uint8) *mockClass {
	t.Helper()
	num, err := alloc.AllocateInterface()
	if err != nil {
		t.Fatalf("AllocateInterface() error = %v", err)
	}
	return &mockClass{iface: num, request: request}
}

func (c *mockClass) ConfigurationDescriptors(w *DescriptorWriter) error {
	return w.Interface(c.iface, ClassVendor, 0, 0)
}

func (c *mockClass) ControlOut(xfer *ControlOut) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.outs++
	if !xfer.Request().IsClassInterface(c.iface) {
		return
	}
	if c.reject || xfer.Request().Request != c.request {
		xfer.Reject()
		return
	}
	c.outData = append([]byte{}, xfer.Data()...)
	xfer.Accept()
}

func (c *mockClass) ControlIn(xfer *ControlIn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ins++
	if !xfer.Request().IsClassInterface(c.iface) {
		return
	}
	if c.reject || xfer.Request().Request != c.request {
		xfer.Reject()
		return
	}
	_ = xfer.AcceptWith(c.response)
}

func (c *mockClass) Reset() {
	c.mutex.Lock()
	c.resets++
	c.mutex.Unlock()
}

func (c *mockClass) Poll() {
	c.mutex.Lock()
	c.polls++
	c.mutex.Unlock()
}

func (c *mockClass) counts() (outs, ins, resets, polls int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.outs, c.ins, c.resets, c.polls
}

func testDeviceDescriptor() *DeviceDescriptor {
	return &DeviceDescriptor{
		USBVersion:     0x0200,
		DeviceClass:    ClassMisc,
		DeviceSubClass: SubClassCommon,
		DeviceProtocol: ProtocolIAD,
		MaxPacketSize0: 64,
		VendorID:       0x1234,
		ProductID:      0x5678,
	}
}

func TestNewStack(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)

	if s.State() != StateDefault {
		t.Errorf("State() = %v, want %v", s.State(), StateDefault)
	}
	if s.Address() != 0 {
		t.Errorf("Address() = %d, want 0", s.Address())
	}
	if s.IsRunning() {
		t.Error("new stack should not be running")
	}
	if s.Done() != nil {
		t.Error("Done() should be nil before Start")
	}
	if s.descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", s.descriptor.NumConfigurations)
	}
}

func TestStack_AddClass(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)

	if err := s.AddClass(nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("AddClass(nil) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}

	for i := 0; i < MaxClasses; i++ {
		if err := s.AddClass(&mockClass{}); err != nil {
			t.Fatalf("AddClass() #%d error = %v", i, err)
		}
	}
	if err := s.AddClass(&mockClass{}); !errors.Is(err, pkg.ErrNoMemory) {
		t.Errorf("AddClass() past limit error = %v, want %v", err, pkg.ErrNoMemory)
	}
}

func TestStack_ConfigurationDescriptor(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)
	s.AddClass(newMockClass(t, s, 0x01))
	s.AddClass(newMockClass(t, s, 0x02))

	var buf [64]byte
	n, err := s.ConfigurationDescriptorTo(buf[:])
	if err != nil {
		t.Fatalf("ConfigurationDescriptorTo() error = %v", err)
	}

	want := ConfigurationDescriptorSize + 2*InterfaceDescriptorSize
	if n != want {
		t.Fatalf("ConfigurationDescriptorTo() = %d, want %d", n, want)
	}

	var cfg ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:n], &cfg); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if cfg.TotalLength != uint16(want) {
		t.Errorf("TotalLength = %d, want %d", cfg.TotalLength, want)
	}
	if cfg.NumInterfaces != 2 {
		t.Errorf("NumInterfaces = %d, want 2", cfg.NumInterfaces)
	}
	if cfg.ConfigurationValue != ConfigurationValue {
		t.Errorf("ConfigurationValue = %d, want %d", cfg.ConfigurationValue, ConfigurationValue)
	}

	var iface InterfaceDescriptor
	if err := ParseInterfaceDescriptor(buf[ConfigurationDescriptorSize+InterfaceDescriptorSize:n], &iface); err != nil {
		t.Fatalf("ParseInterfaceDescriptor() error = %v", err)
	}
	if iface.InterfaceNumber != 1 {
		t.Errorf("second InterfaceNumber = %d, want 1", iface.InterfaceNumber)
	}
}

func TestStack_ConfigurationDescriptorTooSmall(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)
	s.AddClass(newMockClass(t, s, 0x01))

	tests := []struct {
		name string
		size int
	}{
		{"no header", ConfigurationDescriptorSize - 1},
		{"no class room", ConfigurationDescriptorSize + 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			if _, err := s.ConfigurationDescriptorTo(buf); !errors.Is(err, pkg.ErrBufferTooSmall) {
				t.Errorf("ConfigurationDescriptorTo() error = %v, want %v", err, pkg.ErrBufferTooSmall)
			}
		})
	}
}

func TestStack_HandleSetupStandard(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)
	s.AddClass(newMockClass(t, s, 0x01))

	var setup SetupPacket

	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 8)
	resp, err := s.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(device) error = %v", err)
	}
	if len(resp) != 8 {
		t.Errorf("GET_DESCRIPTOR(device, 8) len = %d, want 8", len(resp))
	}
	if resp[1] != DescriptorTypeDevice {
		t.Errorf("descriptor type = 0x%02X, want 0x%02X", resp[1], DescriptorTypeDevice)
	}

	GetDescriptorSetup(&setup, DescriptorTypeConfiguration, 0, 0xFF)
	resp, err = s.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(config) error = %v", err)
	}
	if len(resp) != ConfigurationDescriptorSize+InterfaceDescriptorSize {
		t.Errorf("GET_DESCRIPTOR(config) len = %d, want %d", len(resp), ConfigurationDescriptorSize+InterfaceDescriptorSize)
	}

	GetDescriptorSetup(&setup, DescriptorTypeString, 0, 0xFF)
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("GET_DESCRIPTOR(string) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}

	GetSetConfigurationSetup(&setup, ConfigurationValue)
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_CONFIGURATION in Default state error = %v, want %v", err, pkg.ErrInvalidRequest)
	}

	GetSetAddressSetup(&setup, 5)
	if _, err := s.HandleSetup(&setup, nil); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if s.State() != StateAddress || s.Address() != 5 {
		t.Errorf("after SET_ADDRESS state = %v address = %d, want %v 5", s.State(), s.Address(), StateAddress)
	}

	GetSetConfigurationSetup(&setup, 2)
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_CONFIGURATION(2) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}

	GetSetConfigurationSetup(&setup, ConfigurationValue)
	if _, err := s.HandleSetup(&setup, nil); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if !s.IsConfigured() {
		t.Errorf("State() = %v, want %v", s.State(), StateConfigured)
	}

	GetConfigurationSetup(&setup)
	resp, err = s.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("GET_CONFIGURATION error = %v", err)
	}
	if !bytes.Equal(resp, []byte{ConfigurationValue}) {
		t.Errorf("GET_CONFIGURATION = %v, want [%d]", resp, ConfigurationValue)
	}

	GetStatusSetup(&setup)
	resp, err = s.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if len(resp) != 2 || binary.LittleEndian.Uint16(resp) != 0 {
		t.Errorf("GET_STATUS = %v, want [0 0]", resp)
	}

	setup.RequestType = RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface
	setup.Index = 1
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("GET_STATUS(interface 1) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
	setup.Index = 0
	if _, err := s.HandleSetup(&setup, nil); err != nil {
		t.Errorf("GET_STATUS(interface 0) error = %v", err)
	}

	GetSetConfigurationSetup(&setup, 0)
	if _, err := s.HandleSetup(&setup, nil); err != nil {
		t.Fatalf("SET_CONFIGURATION(0) error = %v", err)
	}
	if s.State() != StateAddress {
		t.Errorf("State() = %v, want %v", s.State(), StateAddress)
	}
}

func TestStack_HandleSetupClass(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)
	first := newMockClass(t, s, 0x01)
	second := newMockClass(t, s, 0x02)
	second.response = []byte{0xAA, 0xBB, 0xCC}
	s.AddClass(first)
	s.AddClass(second)

	var setup SetupPacket

	ClassInterfaceSetup(&setup, RequestDirectionHostToDevice, 0x01, 0, first.iface, 2)
	if _, err := s.HandleSetup(&setup, []byte{7, 8}); err != nil {
		t.Fatalf("class OUT error = %v", err)
	}
	if !bytes.Equal(first.outData, []byte{7, 8}) {
		t.Errorf("outData = %v, want [7 8]", first.outData)
	}
	if outs, _, _, _ := second.counts(); outs != 0 {
		t.Errorf("second driver saw %d OUT transfers after first accepted, want 0", outs)
	}

	ClassInterfaceSetup(&setup, RequestDirectionDeviceToHost, 0x02, 0, second.iface, 2)
	resp, err := s.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("class IN error = %v", err)
	}
	if !bytes.Equal(resp, []byte{0xAA, 0xBB}) {
		t.Errorf("class IN = %v, want [170 187]", resp)
	}

	ClassInterfaceSetup(&setup, RequestDirectionHostToDevice, 0x09, 0, first.iface, 0)
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("rejected OUT error = %v, want %v", err, pkg.ErrStall)
	}

	ClassInterfaceSetup(&setup, RequestDirectionHostToDevice, 0x01, 0, 7, 0)
	if _, err := s.HandleSetup(&setup, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("unclaimed OUT error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestStack_ResetAndPoll(t *testing.T) {
	s := NewStack(testDeviceDescriptor(), nil)
	c := newMockClass(t, s, 0x01)
	s.AddClass(c)

	var setup SetupPacket
	GetSetAddressSetup(&setup, 9)
	s.HandleSetup(&setup, nil)

	var called bool
	s.SetOnReset(func() { called = true })

	s.Reset()
	s.Poll()

	if s.State() != StateDefault || s.Address() != 0 {
		t.Errorf("after Reset state = %v address = %d, want %v 0", s.State(), s.Address(), StateDefault)
	}
	if _, _, resets, polls := c.counts(); resets != 1 || polls != 1 {
		t.Errorf("resets = %d polls = %d, want 1 1", resets, polls)
	}
	if !called {
		t.Error("reset callback not invoked")
	}
}

func TestStack_StartStop(t *testing.T) {
	if err := NewStack(testDeviceDescriptor(), nil).Start(context.Background()); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Start() without HAL error = %v, want %v", err, pkg.ErrInvalidParameter)
	}

	m := newMockHAL()
	s := NewStack(testDeviceDescriptor(), m)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.initCalled || !m.startCalled {
		t.Error("Start() should initialize and start the HAL")
	}
	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !m.stopCalled {
		t.Error("Stop() should stop the HAL")
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("control loop did not exit after Stop()")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStack_StartInitError(t *testing.T) {
	m := newMockHAL()
	m.initErr = pkg.ErrNotSupported
	s := NewStack(testDeviceDescriptor(), m)

	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Start() error = %v, want %v", err, pkg.ErrNotSupported)
	}
	if s.IsRunning() {
		t.Error("stack should not be running after failed Start()")
	}
}

func TestStack_ControlLoop(t *testing.T) {
	m := newMockHAL()
	s := NewStack(testDeviceDescriptor(), m)
	c := newMockClass(t, s, 0x01)
	c.response = []byte{0x42}
	s.AddClass(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-m.events:
			if got != want {
				t.Errorf("event = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	// SET_ADDRESS
	m.setupPackets <- &hal.SetupPacket{RequestType: 0x00, Request: RequestSetAddress, Value: 3}
	expect("ack")
	m.mutex.Lock()
	addr := m.address
	m.mutex.Unlock()
	if addr != 3 {
		t.Errorf("HAL address = %d, want 3", addr)
	}

	// Class OUT with a data stage
	m.outData <- []byte{1, 2, 3}
	m.setupPackets <- &hal.SetupPacket{RequestType: 0x21, Request: 0x01, Index: uint16(c.iface), Length: 3}
	expect("ack")

	// Class IN
	m.setupPackets <- &hal.SetupPacket{RequestType: 0xA1, Request: 0x01, Index: uint16(c.iface), Length: 1}
	expect("ack")
	if got := m.lastWritten(); !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("IN data = %v, want [66]", got)
	}

	// Unknown request stalls
	m.setupPackets <- &hal.SetupPacket{RequestType: 0x21, Request: 0x77, Index: uint16(c.iface)}
	expect("stall")

	// Bus reset then a request so the reset is known to be processed
	m.setupPackets <- nil
	m.setupPackets <- &hal.SetupPacket{RequestType: 0x21, Request: 0x01, Index: uint16(c.iface)}
	expect("ack")

	if s.Address() != 0 {
		t.Errorf("Address() after reset = %d, want 0", s.Address())
	}
	c.mutex.Lock()
	data := c.outData
	c.mutex.Unlock()
	if len(data) != 0 {
		t.Errorf("outData after zero-length OUT = %v, want empty", data)
	}
	if _, _, resets, polls := c.counts(); resets != 1 || polls < 5 {
		t.Errorf("resets = %d polls = %d, want 1 and >= 5", resets, polls)
	}
}
