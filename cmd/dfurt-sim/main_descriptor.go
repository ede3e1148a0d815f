package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/device/class/dfu"
)

type cmdDescriptor struct {
	global *cmdGlobal

	board   boardFlags
	flagRaw bool
}

func (c *cmdDescriptor) command() *cobra.Command {
	cmd := &cobra.Command{}

	cmd.Use = "descriptor"
	cmd.Short = "Print the descriptors of a DFU run-time device"
	cmd.Long = `Print the device and configuration descriptors generated for the given
DFU capabilities, one descriptor per line.`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.run

	c.board.add(cmd.Flags())
	cmd.Flags().BoolVar(&c.flagRaw, "raw", false, "Print the configuration descriptor as a single hex string")

	return cmd
}

func (c *cmdDescriptor) run(cmd *cobra.Command, args []string) error {
	if _, err := c.board.resolve(cmd.Flags()); err != nil {
		return err
	}

	desc := simDeviceDescriptor()
	stack := device.NewStack(desc, nil)

	rt, err := dfu.New(stack, newBoard(c.board.caps))
	if err != nil {
		return err
	}
	if err := stack.AddClass(rt); err != nil {
		return err
	}

	var buf [device.MaxDescriptorResponseSize]byte
	n, err := stack.ConfigurationDescriptorTo(buf[:])
	if err != nil {
		return fmt.Errorf("build configuration descriptor: %w", err)
	}
	cfg := buf[:n]

	out := cmd.OutOrStdout()
	if c.flagRaw {
		fmt.Fprintln(out, hex.EncodeToString(cfg))
		return nil
	}

	var devBuf [device.DeviceDescriptorSize]byte
	desc.MarshalTo(devBuf[:])
	fmt.Fprintf(out, "%-15s % x\n", "device", devBuf[:])

	return walkDescriptors(cfg, func(d []byte) error {
		fmt.Fprintf(out, "%-15s % x\n", descriptorName(d[1]), d)
		return nil
	})
}
