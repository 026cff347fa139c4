package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nedpals/davi-felica-agent/config"
	"github.com/nedpals/davi-felica-agent/nfc"
	"github.com/nedpals/davi-felica-agent/notify"
	"github.com/nedpals/davi-felica-agent/server"
	"github.com/nedpals/davi-felica-agent/session"
)

// Exit codes
const (
	ExitOK      = 0
	ExitStartup = 1
)

// Options are the command line settings layered over the config file.
type Options struct {
	ConfigPath string
	Backend    string
	Device     string
	Port       int // > 0 enables the event server on that port
	Verbose    bool
}

// Agent wires the reader, the session controller and the notifiers together.
type Agent struct {
	Logger *log.Logger
	Out    io.Writer

	// Manager opens the reader. When nil one is created for the configured backend.
	Manager nfc.Manager

	// LookupEnv reads the environment overrides.
	LookupEnv func(string) (string, bool)

	console    *notify.Console
	transcript *notify.Transcript
	closers    []func()
}

func NewAgent(out io.Writer) *Agent {
	return &Agent{
		Logger:    log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Out:       out,
		LookupEnv: os.LookupEnv,
	}
}

// Run reads cards until ctx is done and returns the process exit code. The
// transcript is written exactly once on every path.
func (a *Agent) Run(ctx context.Context, opts Options) int {
	cfg, loadErr := config.Load(opts.ConfigPath)
	if loadErr != nil {
		cfg = config.Default()
	}
	missing := cfg.ApplyEnv(a.LookupEnv)
	applyOptions(cfg, opts)

	a.transcript = notify.NewTranscript(cfg.Transcript.Dir, cfg.Transcript.XLSX)
	a.console = notify.NewConsole(a.Out, a.transcript)
	defer a.shutdown()

	for _, name := range missing {
		a.console.Print(notify.LevelWarning, fmt.Sprintf("The environment variable %s is not set.", name))
	}

	if loadErr != nil {
		return a.startupError("The configuration could not be loaded.", loadErr)
	}
	if err := cfg.Validate(); err != nil {
		return a.startupError("The configuration is invalid.", err)
	}

	manager := a.Manager
	if manager == nil {
		m, err := nfc.NewManager(cfg.Reader.Backend)
		if err != nil {
			return a.startupError("The card reader could not be opened.", session.NewStartupError(err))
		}
		manager = m
	}

	device, err := manager.OpenDevice(cfg.Reader.Device)
	if err != nil {
		return a.startupError("The card reader could not be opened.", session.NewStartupError(err))
	}
	a.onShutdown(func() {
		if err := device.Close(); err != nil {
			a.Logger.Printf("Error closing reader: %v", err)
		}
	})
	a.Logger.Printf("Opened reader %s (%s)", device.String(), device.Connection())

	controller := session.New(device, a.notifiers(ctx, cfg, device))
	controller.Verbose = opts.Verbose

	a.console.Prompt()
	if err := controller.Run(ctx); err != nil {
		a.console.Print(notify.LevelError, "The card reader stopped responding.", err.Error())
		a.Logger.Println("Reader lost, stopping agent...")
		return ExitOK
	}
	a.Logger.Println("Shutdown signal received, stopping agent...")
	return ExitOK
}

// notifiers builds the fan-out in reporting order: console, transcript, endpoint,
// attendance, MQTT, event server. Optional outputs that fail to start are skipped
// with a warning.
func (a *Agent) notifiers(ctx context.Context, cfg *config.Config, device nfc.Device) notify.Multi {
	out := notify.Multi{a.console, a.transcript}

	if cfg.Endpoint.URL != "" {
		var player notify.Player
		if cfg.Sound.Path != "" {
			sound, err := notify.LoadSound(cfg.Sound.Path)
			if err != nil {
				a.warn("The success sound could not be loaded.", err)
			} else {
				player = sound
			}
		}
		out = append(out, notify.NewEndpoint(cfg.Endpoint.URL, cfg.Endpoint.Timeout, a.console, player))
	}

	if cfg.Redis.Addr != "" {
		attendance, err := notify.NewAttendance(ctx, cfg.Redis, a.console)
		if err != nil {
			a.warn("The attendance store is unavailable.", err)
		} else {
			a.onShutdown(func() { attendance.Close() })
			out = append(out, attendance)
		}
	}

	if cfg.MQTT.Broker != "" {
		mqtt, err := notify.NewMQTT(cfg.MQTT)
		if err != nil {
			a.warn("The MQTT broker is unavailable.", err)
		} else {
			a.onShutdown(mqtt.Close)
			out = append(out, mqtt)
		}
	}

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:   cfg.Server.Port,
			MDNS:   cfg.Server.MDNS,
			Reader: device.String(),
		})
		if err := srv.Start(); err != nil {
			a.warn("The event server could not be started.", err)
		} else {
			a.onShutdown(srv.Stop)
			out = append(out, srv)
		}
	}

	return out
}

func applyOptions(cfg *config.Config, opts Options) {
	if opts.Backend != "" {
		cfg.Reader.Backend = opts.Backend
	}
	if opts.Device != "" {
		cfg.Reader.Device = opts.Device
	}
	if opts.Port > 0 {
		cfg.Server.Enabled = true
		cfg.Server.Port = opts.Port
	}
}

func (a *Agent) warn(message string, err error) {
	a.console.Print(notify.LevelWarning, message, err.Error())
}

func (a *Agent) startupError(message string, err error) int {
	a.console.Print(notify.LevelError, message, err.Error())
	return ExitStartup
}

func (a *Agent) onShutdown(fn func()) {
	a.closers = append(a.closers, fn)
}

// shutdown releases everything in reverse order and then writes the transcript.
func (a *Agent) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil

	if err := a.transcript.Close(); err != nil {
		a.Logger.Printf("Error saving transcript: %v", err)
		return
	}
	for _, f := range a.transcript.Files() {
		a.Logger.Printf("Transcript saved to %s", f)
	}
}
