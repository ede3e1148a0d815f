package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

type cmdBoard struct {
	global *cmdGlobal

	board          boardFlags
	flagMaxTimeout uint16
}

func (c *cmdBoard) command() *cobra.Command {
	cmd := &cobra.Command{}

	cmd.Use = "board"
	cmd.Short = "Show the effective board profile"
	cmd.Long = `Show the board profile resulting from --board and the capability flags
as YAML. The output can be saved and passed back with --board.`
	cmd.Example = `  dfurt-sim board --will-detach=false --max-timeout 1000 > board.yaml
  dfurt-sim detach --board board.yaml --reset-after 10ms`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.run

	c.board.add(cmd.Flags())
	cmd.Flags().Uint16Var(&c.flagMaxTimeout, "max-timeout", 0, "Clamp accepted detach timeouts; 0 refuses DFU_DETACH")

	return cmd
}

func (c *cmdBoard) run(cmd *cobra.Command, args []string) error {
	loaded, err := c.board.resolve(cmd.Flags())
	if err != nil {
		return err
	}

	p := newBoardProfile(c.board.caps)
	if cmd.Flags().Changed("max-timeout") {
		limit := c.flagMaxTimeout
		p.MaxTimeout = &limit
	} else if loaded != nil {
		p.MaxTimeout = loaded.MaxTimeout
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode board profile: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}
