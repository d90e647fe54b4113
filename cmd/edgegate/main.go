/*
This command provides the executable version of the edgegate API gateway
core.

For the list of command line options, run:

	edgegate -help
*/
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate"
	"github.com/edgegate/edgegate/config"
)

var version = "unknown"

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Fatal(edgegate.Run(cfg.ToOptions()))
}
