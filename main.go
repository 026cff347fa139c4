// Package main provides a student ID card reader agent for FeliCa based campus cards.
// Each card presented to the reader is classified, its student ID and name are read,
// and the result is reported to the console, an optional HTTP endpoint and the other
// configured outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nedpals/davi-felica-agent/buildinfo"
)

func main() {
	var opts Options
	var showVersion bool

	// Command line flags
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file (optional)")
	flag.StringVar(&opts.Backend, "backend", "", "Reader backend: libnfc or pcsc (overrides config)")
	flag.StringVar(&opts.Device, "device", "", "Reader connection string or PC/SC reader name (optional)")
	flag.IntVar(&opts.Port, "port", 0, "Enable the event server on this port")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Log a dump of every detected card")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := NewAgent(os.Stdout).Run(ctx, opts)
	stop()
	os.Exit(code)
}
