package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/dfurt/device"
	"github.com/ardnew/dfurt/device/class/dfu"
	"github.com/ardnew/dfurt/device/hal"
	"github.com/ardnew/dfurt/device/hal/loopback"
	"github.com/ardnew/dfurt/pkg"
)

// expiryMargin is how long the host keeps waiting after the detach
// timeout before it concludes the device stayed in the application.
const expiryMargin = 100 * time.Millisecond

type cmdDetach struct {
	global *cmdGlobal

	board              boardFlags
	flagRequestTimeout uint16
	flagResetAfter     time.Duration
	flagMaxTimeout     uint16
	flagControlTimeout time.Duration
}

func (c *cmdDetach) command() *cobra.Command {
	cmd := &cobra.Command{}

	cmd.Use = "detach"
	cmd.Short = "Run a DFU detach sequence against a simulated board"
	cmd.Long = `Enumerate a simulated DFU run-time device, send DFU_DETACH and report
whether the board rebooted into its bootloader.

Devices without --will-detach wait for a bus reset from the host; use
--reset-after to send one.`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.run

	c.board.add(cmd.Flags())
	cmd.Flags().Uint16Var(&c.flagRequestTimeout, "request-timeout", 255, "wDetachTimeOut sent with DFU_DETACH in milliseconds")
	cmd.Flags().DurationVar(&c.flagResetAfter, "reset-after", 0, "Send a bus reset this long after DFU_DETACH (0 disables)")
	cmd.Flags().Uint16Var(&c.flagMaxTimeout, "max-timeout", 0, "Clamp accepted detach timeouts; 0 refuses DFU_DETACH")
	cmd.Flags().DurationVar(&c.flagControlTimeout, "control-timeout", time.Second, "Timeout of each control transfer")

	return cmd
}

// detachReport is the outcome of a detach sequence.
type detachReport struct {
	stateBefore dfu.State
	stateAfter  dfu.State
	accepted    bool
	timeout     uint16
	busReset    bool
	rebooted    bool
	bootloader  bool
	elapsed     time.Duration
}

func (r *detachReport) print(w io.Writer) {
	fmt.Fprintf(w, "state: %s\n", r.stateBefore)
	if !r.accepted {
		fmt.Fprintln(w, "detach: refused")
	} else {
		fmt.Fprintf(w, "detach: accepted (timeout %d ms)\n", r.timeout)
		fmt.Fprintf(w, "state: %s\n", r.stateAfter)
	}
	if r.busReset {
		fmt.Fprintln(w, "bus reset: sent")
	}
	if r.rebooted {
		fmt.Fprintf(w, "reboot: after %s\n", r.elapsed.Round(time.Millisecond))
	} else {
		fmt.Fprintln(w, "reboot: none")
	}
	mode := "application"
	if r.bootloader {
		mode = "bootloader"
	}
	fmt.Fprintf(w, "mode: %s\n", mode)
}

func (c *cmdDetach) run(cmd *cobra.Command, args []string) error {
	profile, err := c.board.resolve(cmd.Flags())
	if err != nil {
		return err
	}

	b := newBoard(c.board.caps)
	if cmd.Flags().Changed("max-timeout") {
		b.setLimit(c.flagMaxTimeout)
	} else if profile != nil && profile.MaxTimeout != nil {
		b.setLimit(*profile.MaxTimeout)
	}

	h := loopback.New()
	stack := device.NewStack(simDeviceDescriptor(), h)

	rt, err := dfu.New(stack, b)
	if err != nil {
		return err
	}
	if err := stack.AddClass(rt); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start device stack: %w", err)
	}

	var report detachReport
	g, gctx := errgroup.WithContext(ctx)

	// The clock starts once the host has seen the armed countdown.
	armed := make(chan struct{})
	var armOnce sync.Once
	startClock := func() { armOnce.Do(func() { close(armed) }) }

	// Millisecond timer driving the detach countdown
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-armed:
		}
		return c.tick(gctx, rt, b)
	})

	// Host side
	g.Go(func() error {
		defer cancel()
		defer startClock()
		return c.host(gctx, h.Host(), rt, b, &report, startClock)
	})

	err = g.Wait()
	_ = stack.Stop()
	<-stack.Done()
	if err != nil {
		return err
	}

	// The board resets: the pre-main hook decides where execution resumes.
	if report.rebooted {
		report.bootloader = b.preMain()
	}

	report.print(cmd.OutOrStdout())
	return nil
}

// tick advances the runtime by the wall-clock milliseconds elapsed since
// the last call, until the board reboots or ctx is done.
func (c *cmdDetach) tick(ctx context.Context, rt *dfu.Runtime[*board], b *board) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.Rebooted():
			return nil
		case now := <-ticker.C:
			ms := now.Sub(last).Milliseconds()
			if ms <= 0 {
				continue
			}
			last = last.Add(time.Duration(ms) * time.Millisecond)
			rt.Tick(uint16(min(ms, 0xFFFF)))
		}
	}
}

// host enumerates the device and runs the detach sequence.
func (c *cmdDetach) host(ctx context.Context, host *loopback.Host, rt *dfu.Runtime[*board], b *board, report *detachReport, startClock func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-host.Connected():
	}

	control := func(setup *device.SetupPacket, data []byte) ([]byte, error) {
		tctx, cancel := context.WithTimeout(ctx, c.flagControlTimeout)
		defer cancel()
		s := hal.SetupPacket(*setup)
		return host.Control(tctx, &s, data)
	}

	var setup device.SetupPacket

	device.GetDescriptorSetup(&setup, device.DescriptorTypeConfiguration, 0, device.MaxDescriptorResponseSize)
	cfg, err := control(&setup, nil)
	if err != nil {
		return fmt.Errorf("get configuration descriptor: %w", err)
	}
	iface, fd, err := findDFUFunction(cfg)
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentDFU, "found DFU function",
		"interface", iface,
		"attributes", fmt.Sprintf("0x%02X", fd.Attributes),
		"detachTimeout", fd.DetachTimeout)

	device.GetSetAddressSetup(&setup, 1)
	if _, err := control(&setup, nil); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	device.GetSetConfigurationSetup(&setup, device.ConfigurationValue)
	if _, err := control(&setup, nil); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}

	getState := func() (dfu.State, error) {
		dfu.GetStatusSetup(&setup, iface)
		resp, err := control(&setup, nil)
		if err != nil {
			return 0, fmt.Errorf("get status: %w", err)
		}
		var status dfu.Status
		if err := dfu.ParseStatus(resp, &status); err != nil {
			return 0, err
		}
		return status.State, nil
	}

	if report.stateBefore, err = getState(); err != nil {
		return err
	}

	start := time.Now()
	dfu.DetachSetup(&setup, iface, c.flagRequestTimeout)
	_, err = control(&setup, nil)
	switch {
	case errors.Is(err, pkg.ErrStall):
		return nil
	case err != nil:
		return fmt.Errorf("detach: %w", err)
	}
	report.accepted = true
	report.timeout, _ = rt.PendingTimeout()
	startClock()

	// A device that detaches on its own may already be gone.
	select {
	case <-b.Rebooted():
	default:
		if report.stateAfter, err = getState(); err != nil {
			return err
		}
	}

	deadline := time.NewTimer(time.Duration(report.timeout)*time.Millisecond + expiryMargin)
	defer deadline.Stop()

	var resetC <-chan time.Time
	if c.flagResetAfter > 0 {
		resetTimer := time.NewTimer(c.flagResetAfter)
		defer resetTimer.Stop()
		resetC = resetTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.Rebooted():
			report.rebooted = true
			report.elapsed = time.Since(start)
			return nil
		case <-resetC:
			resetC = nil
			if err := host.BusReset(ctx); err != nil {
				return fmt.Errorf("bus reset: %w", err)
			}
			report.busReset = true
		case <-deadline.C:
			return nil
		}
	}
}
