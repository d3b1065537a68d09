package main

import (
	"os"

	beaconcmder "github.com/beaconhq/beacon/cmd/beacon"
)

func main() {
	cmd := beaconcmder.NewBeaconCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
