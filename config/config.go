// Package config loads agent settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvEndpointURL      = "ENDPOINT_URL"
	EnvSuccessSoundPath = "SUCCESS_SOUND_PATH"
)

// Config is the complete agent configuration.
type Config struct {
	Reader     ReaderConfig     `yaml:"reader"`
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Sound      SoundConfig      `yaml:"sound"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Server     ServerConfig     `yaml:"server"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ReaderConfig selects the reader backend and device.
type ReaderConfig struct {
	Backend string `yaml:"backend"`
	// Device is a libnfc connection string or a PC/SC reader name. Empty picks the first reader.
	Device string `yaml:"device"`
}

// EndpointConfig is the HTTP callback for successful reads.
type EndpointConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SoundConfig is the sound played after a successful submission.
type SoundConfig struct {
	Path string `yaml:"path"`
}

// TranscriptConfig controls where the session transcript is written at shutdown.
type TranscriptConfig struct {
	Dir  string `yaml:"dir"`
	XLSX bool   `yaml:"xlsx"`
}

// ServerConfig controls the local event server.
type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	MDNS    bool `yaml:"mdns"`
}

// MQTTConfig holds MQTT broker connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Topic      string `yaml:"topic"`
	ClientID   string `yaml:"client_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// RedisConfig holds the attendance store settings. An empty address disables it.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Reader:     ReaderConfig{Backend: "libnfc"},
		Endpoint:   EndpointConfig{Timeout: 6 * time.Second},
		Transcript: TranscriptConfig{Dir: "./log"},
		Server:     ServerConfig{Port: 18080, MDNS: true},
		MQTT:       MQTTConfig{Topic: "davi-felica-agent"},
		Redis:      RedisConfig{KeyPrefix: "attendance", TTL: 72 * time.Hour},
	}
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Load reads path, or returns the defaults when path is empty. The environment is not applied.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return cfg, nil
}

// ApplyEnv overrides the endpoint URL and sound path from the environment. It returns
// the names of the variables that were not set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) (missing []string) {
	if v, ok := lookup(EnvEndpointURL); ok {
		c.Endpoint.URL = v
	} else if c.Endpoint.URL == "" {
		missing = append(missing, EnvEndpointURL)
	}
	if v, ok := lookup(EnvSuccessSoundPath); ok {
		c.Sound.Path = v
	} else if c.Sound.Path == "" {
		missing = append(missing, EnvSuccessSoundPath)
	}
	return missing
}

// Validate checks the settings that cannot be corrected at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Reader.Backend {
	case "libnfc", "pcsc":
	default:
		errs = append(errs, fmt.Errorf("reader.backend: unknown backend %q", c.Reader.Backend))
	}

	if c.Endpoint.URL != "" {
		u, err := url.Parse(c.Endpoint.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint.url: %q is not an http(s) URL", c.Endpoint.URL))
		}
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, errors.New("endpoint.timeout: must be positive"))
	}

	if c.Transcript.Dir == "" {
		errs = append(errs, errors.New("transcript.dir: must not be empty"))
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" || strings.ContainsAny(c.MQTT.Topic, "#+") {
			errs = append(errs, fmt.Errorf("mqtt.topic: %q is not a publish topic", c.MQTT.Topic))
		}
		if (c.MQTT.ClientCert == "") != (c.MQTT.ClientKey == "") {
			errs = append(errs, errors.New("mqtt: client_cert and client_key must be set together"))
		}
	}

	if c.Redis.Addr != "" {
		if c.Redis.KeyPrefix == "" {
			errs = append(errs, errors.New("redis.key_prefix: must not be empty"))
		}
		if c.Redis.TTL < 0 {
			errs = append(errs, errors.New("redis.ttl: must not be negative"))
		}
	}

	return errors.Join(errs...)
}
