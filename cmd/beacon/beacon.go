// Package beaconcmder
package beaconcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/beaconhq/beacon/cmd/beacon/config"
	initcmder "github.com/beaconhq/beacon/cmd/beacon/init"
	servecmder "github.com/beaconhq/beacon/cmd/beacon/serve"
	versioncmder "github.com/beaconhq/beacon/cmd/version"
)

const beaconLongDesc string = `Beacon is the backend for your personal assistant's memory.

Devices push the memories an assistant captures during a session, and pull
everyone else's changes whenever they reconnect. The server deduplicates by
content, merges conflicting edits, and propagates deletions.

Run the service using:
  beacon serve         Run the API server

Manage local state using:
  beacon init          Initialize a .beacon/ directory
  beacon config        Manage persistent configuration`

const beaconShortDesc string = "Beacon - personal assistant memory backend"

func NewBeaconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: beaconShortDesc,
		Long:  beaconLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .beacon directory (default: ./.beacon or ~/.beacon)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
