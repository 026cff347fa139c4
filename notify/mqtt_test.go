package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nedpals/davi-felica-agent/config"
	"github.com/nedpals/davi-felica-agent/session"
)

// fakeToken is a completed or stuck publish.
type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	token     *fakeToken
	published []publishedMessage
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	p.published = append(p.published, publishedMessage{topic, qos, payload.([]byte)})
	return p.token
}

func TestMQTT_Report(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: true}}
	m := newMQTT(pub, "campus/gate-1")

	m.Report(context.Background(), successEvent())
	m.Report(context.Background(), session.Event{Type: session.EventCardReleased, TagID: "0101"})

	if len(pub.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.published))
	}
	first := pub.published[0]
	if first.topic != "campus/gate-1/read_success" || first.qos != 0 {
		t.Errorf("topic = %q qos = %d", first.topic, first.qos)
	}

	var decoded struct {
		Type   string `json:"type"`
		Record struct {
			StudentID string `json:"student_id"`
		} `json:"record"`
	}
	if err := json.Unmarshal(first.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Type != "read_success" || decoded.Record.StudentID != "1234567" {
		t.Errorf("payload = %s", first.payload)
	}
	if pub.published[1].topic != "campus/gate-1/card_released" {
		t.Errorf("topic = %q", pub.published[1].topic)
	}
}

func TestMQTT_ReportFailuresAreLogged(t *testing.T) {
	for _, token := range []*fakeToken{{done: false}, {done: true, err: errors.New("not connected")}} {
		pub := &fakePublisher{token: token}
		m := newMQTT(pub, "campus")
		m.logger.SetOutput(io.Discard)

		// Must return without panicking.
		m.Report(context.Background(), successEvent())
		if len(pub.published) != 1 {
			t.Errorf("published %d messages, want 1", len(pub.published))
		}
	}
}

func TestBuildTLSConfig(t *testing.T) {
	if _, err := buildTLSConfig(config.MQTTConfig{CACert: "/nonexistent/ca.pem"}); err == nil {
		t.Error("buildTLSConfig() with a missing CA should fail")
	}

	cfg, err := buildTLSConfig(config.MQTTConfig{})
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}
	if cfg.RootCAs != nil || len(cfg.Certificates) != 0 {
		t.Errorf("empty config should not load certificates")
	}
}
