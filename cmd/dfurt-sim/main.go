// Command dfurt-sim exercises the DFU run-time class against a simulated
// board and host.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/dfurt/pkg"
	"github.com/ardnew/dfurt/pkg/prof"
)

type cmdGlobal struct {
	flagVerbose     bool
	flagLogFormat   string
	flagCPUProfile  string
	flagHeapProfile string

	profile *prof.Session
}

// preRun applies the logging and profiling flags before any subcommand runs.
func (c *cmdGlobal) preRun(cmd *cobra.Command, args []string) error {
	format, err := pkg.ParseLogFormat(c.flagLogFormat)
	if err != nil {
		return fmt.Errorf("invalid log format %q: %w", c.flagLogFormat, err)
	}

	pkg.SetLogFormat(cmd.ErrOrStderr(), format)
	if c.flagVerbose {
		pkg.SetLogLevel(slog.LevelDebug)
	} else {
		pkg.SetLogLevel(slog.LevelWarn)
	}

	cfg := prof.Config{CPUPath: c.flagCPUProfile, HeapPath: c.flagHeapProfile}
	if cfg.Enabled() && !prof.Available {
		pkg.LogWarn(pkg.ComponentStack, "profiling flags ignored; rebuild with -tags profile")
	}

	c.profile, err = prof.Start(cfg)
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}

	return nil
}

// postRun flushes the profiles started by preRun.
func (c *cmdGlobal) postRun(cmd *cobra.Command, args []string) error {
	if c.profile == nil {
		return nil
	}

	err := c.profile.Stop()
	c.profile = nil
	if err != nil {
		return fmt.Errorf("stop profiling: %w", err)
	}

	return nil
}

func newApp() *cobra.Command {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "dfurt-sim"
	app.Short = "Simulate a USB DFU run-time device"
	app.Long = `dfurt-sim runs the DFU run-time class on an in-memory USB bus.

The simulated board reboots into its bootloader when the class invokes
the mode switch, the same way firmware stores a magic value in reserved
memory and resets the processor.`
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	app.PersistentPreRunE = globalCmd.preRun
	app.PersistentPostRunE = globalCmd.postRun

	// Global flags
	app.PersistentFlags().BoolVarP(&globalCmd.flagVerbose, "verbose", "v", false, "Enable debug logging")
	app.PersistentFlags().StringVar(&globalCmd.flagLogFormat, "log-format", "text", "Log format (text or json)")
	app.PersistentFlags().StringVar(&globalCmd.flagCPUProfile, "cpu-profile", "", "Write a CPU profile to `file` (requires -tags profile)")
	app.PersistentFlags().StringVar(&globalCmd.flagHeapProfile, "heap-profile", "", "Write a heap profile to `file` on exit (requires -tags profile)")

	// descriptor sub-command
	descriptorCmd := cmdDescriptor{global: &globalCmd}
	app.AddCommand(descriptorCmd.command())

	// board sub-command
	boardCmd := cmdBoard{global: &globalCmd}
	app.AddCommand(boardCmd.command())

	// detach sub-command
	detachCmd := cmdDetach{global: &globalCmd}
	app.AddCommand(detachCmd.command())

	return app
}

func main() {
	if err := newApp().Execute(); err != nil {
		os.Exit(1)
	}
}
