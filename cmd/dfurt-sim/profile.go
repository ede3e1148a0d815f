package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/ardnew/dfurt/device/class/dfu"
)

// boardProfile is the YAML representation of a simulated board.
type boardProfile struct {
	Capabilities capabilityProfile `yaml:"capabilities"`

	// MaxTimeout installs the board's Allow hook when set.
	MaxTimeout *uint16 `yaml:"max_timeout,omitempty"`
}

type capabilityProfile struct {
	WillDetach            bool   `yaml:"will_detach"`
	ManifestationTolerant bool   `yaml:"manifestation_tolerant"`
	CanDownload           bool   `yaml:"can_download"`
	CanUpload             bool   `yaml:"can_upload"`
	DetachTimeout         uint16 `yaml:"detach_timeout"`
	TransferSize          uint16 `yaml:"transfer_size"`
}

func newBoardProfile(caps dfu.Capabilities) *boardProfile {
	return &boardProfile{
		Capabilities: capabilityProfile{
			WillDetach:            caps.WillDetach,
			ManifestationTolerant: caps.ManifestationTolerant,
			CanDownload:           caps.CanDownload,
			CanUpload:             caps.CanUpload,
			DetachTimeout:         caps.DetachTimeout,
			TransferSize:          caps.TransferSize,
		},
	}
}

// loadBoardProfile reads a board profile. Keys missing from the file keep
// their default values.
func loadBoardProfile(path string) (*boardProfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board profile: %w", err)
	}

	p := newBoardProfile(dfu.DefaultCapabilities())
	err = yaml.UnmarshalStrict(content, p)
	if err != nil {
		return nil, fmt.Errorf("decode board profile: %w", err)
	}

	return p, nil
}

// applyTo copies the profile into caps, except for capabilities set
// explicitly on the command line.
func (p *boardProfile) applyTo(fs *pflag.FlagSet, caps *dfu.Capabilities) {
	pc := p.Capabilities
	fields := []struct {
		flag  string
		apply func()
	}{
		{"will-detach", func() { caps.WillDetach = pc.WillDetach }},
		{"manifestation-tolerant", func() { caps.ManifestationTolerant = pc.ManifestationTolerant }},
		{"can-download", func() { caps.CanDownload = pc.CanDownload }},
		{"can-upload", func() { caps.CanUpload = pc.CanUpload }},
		{"detach-timeout", func() { caps.DetachTimeout = pc.DetachTimeout }},
		{"transfer-size", func() { caps.TransferSize = pc.TransferSize }},
	}

	for _, f := range fields {
		if !fs.Changed(f.flag) {
			f.apply()
		}
	}
}

// boardFlags binds the capability flags and the --board profile path.
type boardFlags struct {
	caps      dfu.Capabilities
	flagBoard string
}

func (b *boardFlags) add(fs *pflag.FlagSet) {
	addCapabilityFlags(fs, &b.caps)
	fs.StringVar(&b.flagBoard, "board", "", "Load the board from a YAML profile `file`; flags override its values")
}

// resolve merges the --board profile into the capability flags. It returns
// the loaded profile, or nil when --board is unset.
func (b *boardFlags) resolve(fs *pflag.FlagSet) (*boardProfile, error) {
	if b.flagBoard == "" {
		return nil, nil
	}

	p, err := loadBoardProfile(b.flagBoard)
	if err != nil {
		return nil, err
	}

	p.applyTo(fs, &b.caps)
	return p, nil
}
