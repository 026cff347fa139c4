package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Endpoint.Timeout != 6*time.Second {
		t.Errorf("Endpoint.Timeout = %v, want 6s", cfg.Endpoint.Timeout)
	}
	if cfg.Transcript.Dir != "./log" {
		t.Errorf("Transcript.Dir = %q, want ./log", cfg.Transcript.Dir)
	}
	if cfg.Server.Port != 18080 {
		t.Errorf("Server.Port = %d, want 18080", cfg.Server.Port)
	}
	if cfg.Redis.TTL != 72*time.Hour || cfg.Redis.KeyPrefix != "attendance" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
reader:
  backend: pcsc
  device: "Sony FeliCa Port/PaSoRi 4.0"
endpoint:
  url: https://attendance.example.edu/api/checkin
  timeout: 2500ms
transcript:
  xlsx: true
mqtt:
  broker: tcp://broker.local:1883
redis:
  addr: localhost:6379
  ttl: 24h
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Reader.Backend != "pcsc" || cfg.Reader.Device != "Sony FeliCa Port/PaSoRi 4.0" {
		t.Errorf("Reader = %+v", cfg.Reader)
	}
	if cfg.Endpoint.Timeout != 2500*time.Millisecond {
		t.Errorf("Endpoint.Timeout = %v", cfg.Endpoint.Timeout)
	}
	if !cfg.Transcript.XLSX || cfg.Transcript.Dir != "./log" {
		t.Errorf("Transcript = %+v, want defaults kept", cfg.Transcript)
	}
	if cfg.MQTT.Topic != "davi-felica-agent" {
		t.Errorf("MQTT.Topic = %q, want default", cfg.MQTT.Topic)
	}
	if cfg.Redis.TTL != 24*time.Hour {
		t.Errorf("Redis.TTL = %v", cfg.Redis.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("reader: [not, a, map]")); err == nil {
		t.Error("Parse() should reject a malformed section")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("server:\n  enabled: true\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9000 {
		t.Errorf("Server = %+v", cfg.Server)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}

	cfg, err = Load("")
	if err != nil || cfg.Server.Port != 18080 {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{EnvEndpointURL: "http://localhost:8000/checkin"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	missing := cfg.ApplyEnv(lookup)

	if cfg.Endpoint.URL != "http://localhost:8000/checkin" {
		t.Errorf("Endpoint.URL = %q", cfg.Endpoint.URL)
	}
	if len(missing) != 1 || missing[0] != EnvSuccessSoundPath {
		t.Errorf("missing = %v, want [%s]", missing, EnvSuccessSoundPath)
	}

	// A value from the file counts as set.
	cfg = Default()
	cfg.Sound.Path = "/usr/share/sounds/ok.wav"
	missing = cfg.ApplyEnv(func(string) (string, bool) { return "", false })
	if len(missing) != 1 || missing[0] != EnvEndpointURL {
		t.Errorf("missing = %v, want [%s]", missing, EnvEndpointURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Reader.Backend = "bluetooth" }, "reader.backend"},
		{"bad endpoint", func(c *Config) { c.Endpoint.URL = "ftp://example.com" }, "endpoint.url"},
		{"zero timeout", func(c *Config) { c.Endpoint.Timeout = 0 }, "endpoint.timeout"},
		{"no transcript dir", func(c *Config) { c.Transcript.Dir = "" }, "transcript.dir"},
		{"bad port", func(c *Config) { c.Server.Enabled = true; c.Server.Port = 70000 }, "server.port"},
		{"wildcard topic", func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.Topic = "a/#" }, "mqtt.topic"},
		{"half client cert", func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.ClientCert = "c.pem" }, "client_key"},
		{"no redis prefix", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.KeyPrefix = "" }, "redis.key_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	// Disabled server ignores its port.
	cfg := Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
