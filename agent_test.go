package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nedpals/davi-felica-agent/config"
	"github.com/nedpals/davi-felica-agent/felica"
	"github.com/nedpals/davi-felica-agent/felica/felicatest"
	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/nfc"
)

var (
	detectIDm = felica.IDm{0x01, 0x01, 0x06, 0x01, 0xCA, 0x0F, 0x00, 0x01}
	commonIDm = felica.IDm{0x01, 0x01, 0x06, 0x01, 0xCA, 0x0F, 0x00, 0x02}
	standard  = felica.PMm{0x10, 0x0B, 0x4B, 0x42, 0x84, 0x85, 0xD0, 0xFF}
)

func studentCard(id, name string) nfc.Tag {
	emu := &felicatest.Card{
		PMm: standard,
		Systems: []felicatest.System{
			{Code: idcard.SystemCode, IDm: detectIDm},
			{
				Code: idcard.CommonAreaSystemCode,
				IDm:  commonIDm,
				Services: map[uint16]map[uint16]felicatest.Block{
					idcard.ServiceAddress(idcard.ServiceNumber).Code(): {
						idcard.IdentifierBlock: felicatest.TextBlock([]byte(id)),
						idcard.NameBlock:       felicatest.TextBlock([]byte(name)),
					},
				},
			},
		},
	}
	return nfc.NewFelicaTag(felica.NewCard(emu, detectIDm, standard, felica.WildcardSystemCode))
}

// writeConfig writes a config file that keeps the transcript inside dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "agent.yaml")
	body := "transcript:\n  dir: " + filepath.Join(dir, "log") + "\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func newTestAgent(manager nfc.Manager, vars map[string]string) (*Agent, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewAgent(out)
	a.Logger = log.New(io.Discard, "", 0)
	a.Manager = manager
	a.LookupEnv = env(vars)
	return a, out
}

func transcripts(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "log", "log_*.html"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return files
}

func TestAgent_ReadsCardAndSubmits(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StudentID string `json:"student_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, body.StudentID)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := nfc.NewMockManager()
	manager.MockDevice.Tags = []nfc.Tag{studentCard("021234567", "YAMADA TARO")}
	manager.MockDevice.OnExhausted = cancel

	dir := t.TempDir()
	a, out := newTestAgent(manager, map[string]string{config.EnvEndpointURL: endpoint.URL})

	code := a.Run(ctx, Options{ConfigPath: writeConfig(t, dir, "")})
	if code != ExitOK {
		t.Fatalf("Run() = %d, want %d\n%s", code, ExitOK, out)
	}

	mu.Lock()
	if !slices.Equal(received, []string{"1234567"}) {
		t.Errorf("endpoint received %v, want [1234567]", received)
	}
	mu.Unlock()

	output := out.String()
	for _, want := range []string{
		"WARNING\tThe environment variable SUCCESS_SOUND_PATH is not set.",
		"INFO\tHold your student ID card on the card reader...",
		"INFO\tConnected to the card with Manufacture ID of " + detectIDm.String() + ".",
		"SUCCESS\tRead the card information.\tStudent ID: 1234567",
		"SUCCESS\tSent data to the server.",
		"INFO\tReleased the card with Manufacture ID of " + detectIDm.String() + ".",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
	if strings.Contains(output, "ENDPOINT_URL is not set") {
		t.Error("warned about ENDPOINT_URL although it was set")
	}

	if files := transcripts(t, dir); len(files) != 1 {
		t.Errorf("transcripts = %v, want exactly one", files)
	}
	if calls := manager.MockDevice.GetCallLog(); !slices.Contains(calls, "Close") {
		t.Errorf("device was not closed: %v", calls)
	}
}

func TestAgent_StartupFailures(t *testing.T) {
	tests := []struct {
		name       string
		extra      string
		openErr    error
		wantLine   string
		wantOpened bool
	}{
		{
			name:     "invalid config",
			extra:    "reader:\n  backend: serial\n",
			wantLine: "ERROR\tThe configuration is invalid.",
		},
		{
			name:       "reader cannot be opened",
			openErr:    nfc.NewOpenError("usb", nfc.ErrNoDevice),
			wantLine:   "ERROR\tThe card reader could not be opened.",
			wantOpened: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := nfc.NewMockManager()
			manager.OpenDeviceError = tt.openErr

			dir := t.TempDir()
			a, out := newTestAgent(manager, map[string]string{})

			code := a.Run(context.Background(), Options{ConfigPath: writeConfig(t, dir, tt.extra)})
			if code != ExitStartup {
				t.Fatalf("Run() = %d, want %d\n%s", code, ExitStartup, out)
			}
			if !strings.Contains(out.String(), tt.wantLine) {
				t.Errorf("output missing %q\n%s", tt.wantLine, out)
			}
			if opened := len(manager.CallLog) > 0; opened != tt.wantOpened {
				t.Errorf("OpenDevice called = %v, want %v", opened, tt.wantOpened)
			}
			if files := transcripts(t, dir); len(files) != 1 {
				t.Errorf("transcripts = %v, want exactly one", files)
			}
		})
	}
}

func TestAgent_ReaderLostExitsCleanly(t *testing.T) {
	manager := nfc.NewMockManager()
	manager.MockDevice.DetectErrors = []error{nfc.NewTagFaultError("Connect", "", nfc.ErrNotSupported)}
	manager.MockDevice.WaitError = nfc.ErrDeviceClosed

	dir := t.TempDir()
	a, out := newTestAgent(manager, map[string]string{})

	code := a.Run(context.Background(), Options{ConfigPath: writeConfig(t, dir, "")})
	if code != ExitOK {
		t.Fatalf("Run() = %d, want %d\n%s", code, ExitOK, out)
	}
	for _, want := range []string{
		"ERROR\tCard did not respond to the reader.",
		"ERROR\tThe card reader stopped responding.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if files := transcripts(t, dir); len(files) != 1 {
		t.Errorf("transcripts = %v, want exactly one", files)
	}
	if calls := manager.MockDevice.GetCallLog(); !slices.Contains(calls, "Close") {
		t.Errorf("device was not closed: %v", calls)
	}
}

func TestAgent_MissingEnvironmentWarnings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	a, out := newTestAgent(nfc.NewMockManager(), map[string]string{})
	if code := a.Run(ctx, Options{ConfigPath: writeConfig(t, dir, "")}); code != ExitOK {
		t.Fatalf("Run() = %d, want %d", code, ExitOK)
	}

	for _, name := range []string{config.EnvEndpointURL, config.EnvSuccessSoundPath} {
		want := "WARNING\tThe environment variable " + name + " is not set."
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestAgent_OpensConfiguredDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	manager := nfc.NewMockManager()
	dir := t.TempDir()
	a, _ := newTestAgent(manager, map[string]string{})
	a.Run(ctx, Options{
		ConfigPath: writeConfig(t, dir, "reader:\n  device: usb:054c:06c3\n"),
		Device:     "pn533_usb:001:004",
	})

	if want := []string{"OpenDevice(pn533_usb:001:004)"}; !slices.Equal(manager.CallLog, want) {
		t.Errorf("CallLog = %v, want %v", manager.CallLog, want)
	}
}

func TestApplyOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want func(*config.Config)
	}{
		{"no overrides", Options{}, func(c *config.Config) {}},
		{"backend", Options{Backend: "pcsc"}, func(c *config.Config) { c.Reader.Backend = "pcsc" }},
		{"device", Options{Device: "usb"}, func(c *config.Config) { c.Reader.Device = "usb" }},
		{"port enables server", Options{Port: 9000}, func(c *config.Config) {
			c.Server.Enabled = true
			c.Server.Port = 9000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := config.Default()
			applyOptions(got, tt.opts)

			want := config.Default()
			tt.want(want)
			if *got != *want {
				t.Errorf("applyOptions() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestAgent_OptionalOutputsWarn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	extra := "sound:\n  path: " + filepath.Join(dir, "missing.mp3") + "\nendpoint:\n  url: http://127.0.0.1:1/\n"
	a, out := newTestAgent(nfc.NewMockManager(), map[string]string{})
	if code := a.Run(ctx, Options{ConfigPath: writeConfig(t, dir, extra)}); code != ExitOK {
		t.Fatalf("Run() = %d, want %d\n%s", code, ExitOK, out)
	}
	if !strings.Contains(out.String(), "WARNING\tThe success sound could not be loaded.") {
		t.Errorf("missing sound warning\n%s", out)
	}
}
