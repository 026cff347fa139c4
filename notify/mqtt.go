package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nedpals/davi-felica-agent/buildinfo"
	"github.com/nedpals/davi-felica-agent/config"
	"github.com/nedpals/davi-felica-agent/session"
)

// PublishTimeout bounds the wait for a publish to be handed to the broker.
const PublishTimeout = 3 * time.Second

// publisher is the part of paho.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTT publishes every event as JSON to <topic>/<event type>.
type MQTT struct {
	client publisher
	topic  string
	logger *log.Logger
	close  func()
}

// NewMQTT connects to the broker in cfg.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = buildinfo.Name + "-" + host
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("[notify] MQTT connection lost: %v", err)
		})

	if cfg.CACert != "" || cfg.ClientCert != "" {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("mqtt: build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry keeps trying in the background; publishes queue until then.
		log.Printf("[notify] MQTT broker %s not reachable yet, retrying", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}

	m := newMQTT(client, cfg.Topic)
	m.close = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, topic string) *MQTT {
	return &MQTT{
		client: client,
		topic:  topic,
		logger: log.New(os.Stderr, "[notify] ", log.LstdFlags),
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Topic returns the topic an event type is published to.
func (m *MQTT) Topic(t session.EventType) string {
	return m.topic + "/" + string(t)
}

// Report publishes ev with QoS 0.
func (m *MQTT) Report(ctx context.Context, ev session.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Printf("MQTT encode %s: %v", ev.Type, err)
		return
	}

	token := m.client.Publish(m.Topic(ev.Type), 0, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		m.logger.Printf("MQTT publish %s timed out", m.Topic(ev.Type))
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Printf("MQTT publish %s: %v", m.Topic(ev.Type), err)
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.close != nil {
		m.close()
	}
}
