package main

import (
	"os"

	servecmder "github.com/beaconhq/beacon/cmd/beacon/serve"
)

func main() {
	cmd := servecmder.NewServeCmd()
	cmd.Use = "beaconapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .beacon directory (default: ./.beacon or ~/.beacon)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
