// Package initcmder provides the init command for initializing a .beacon
// directory with a default config file.
package initcmder

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/pkg/cliui"
	"github.com/beaconhq/beacon/pkg/config"
	"github.com/beaconhq/beacon/pkg/dotdir"
)

const initLongDesc string = `Initialize a .beacon/ directory with a default config.toml.

By default the directory is created in the user's home directory. Pass
--config-dir to create it elsewhere, e.g. a local per-project directory; a
local .beacon/ takes precedence over ~/.beacon/ for configuration and
storage.

Examples:
  beacon init
  beacon init --config-dir ./.beacon`

const initShortDesc string = "Initialize a .beacon/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runInit(configDir)
		},
	}

	return cmd
}

func runInit(configDir string) error {
	var dir string

	err := cliui.Step(os.Stdout, "Creating .beacon directory", func() error {
		var err error
		dir, err = dotdir.NewManager().Create(configDir)
		return err
	})
	if err != nil {
		return err
	}

	err = cliui.Step(os.Stdout, "Writing default config", func() error {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return err
		}

		// Never clobber an existing config.
		if _, statErr := os.Stat(cfger.GetTarget()); statErr == nil {
			return nil
		}

		return cfger.SaveConfig(config.NewDefaultConfig())
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  Initialized %s\n\n", cliui.ValueStyle.Render(dir))
	return nil
}
