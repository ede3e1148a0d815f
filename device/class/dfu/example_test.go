package dfu_test

import (
	"fmt"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/device/class/dfu"
)

// exampleBoard reboots into its bootloader when detached.
type exampleBoard struct{}

func (exampleBoard) Detach() {
	fmt.Println("rebooting into bootloader")
}

// Example drives the run-time interface through the stack's request
// dispatch, the way a control loop would after reading a SETUP packet.
func Example() {
	stack := device.NewStack(&device.DeviceDescriptor{
		USBVersion:     0x0200,
		MaxPacketSize0: 64,
		VendorID:       0x1209,
		ProductID:      0x0001,
	}, nil)

	rt, err := dfu.New(stack, exampleBoard{})
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := stack.AddClass(rt); err != nil {
		fmt.Println(err)
		return
	}

	var setup device.SetupPacket
	dfu.DetachSetup(&setup, rt.Interface(), 3)
	if _, err := stack.HandleSetup(&setup, nil); err != nil {
		fmt.Println(err)
		return
	}

	var status dfu.Status
	dfu.GetStatusSetup(&setup, rt.Interface())
	resp, err := stack.HandleSetup(&setup, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := dfu.ParseStatus(resp, &status); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("state:", status.State)

	for i := 0; i < 3; i++ {
		rt.Tick(1)
	}
	fmt.Println("detached:", rt.Detached())

	// Output:
	// state: appDETACH
	// rebooting into bootloader
	// detached: true
}
