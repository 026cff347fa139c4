package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-felica-agent/buildinfo"
	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/session"
)

var testTime = time.Date(2026, 4, 8, 8, 45, 12, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{Reader: "Mock FeliCa Reader"})
	s.now = func() time.Time { return testTime }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.clients.CloseAll()
		ts.Close()
	})
	return s, ts
}

func readEvent() session.Event {
	return session.Event{
		ID:    "5b0c3f4e-8a57-4f51-9c59-9f0d6e9a1c11",
		Type:  session.EventReadSuccess,
		Time:  testTime,
		TagID: "0101060ACA0F0001",
		Record: &idcard.StudentRecord{
			Classification: "02",
			Role:           idcard.RoleStudent,
			ID:             "1234567",
			Name:           "YAMADA TARO     ",
		},
	}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Type    string `json:"type"`
		Payload Status `json:"payload"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("Failed to read status: %v", err)
	}
	if hello.Type != WSMessageTypeStatus {
		t.Fatalf("first message type = %q, want %q", hello.Type, WSMessageTypeStatus)
	}
	return conn
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != CORSAllowOrigin {
		t.Errorf("CORS origin = %q", got)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Status{
		Status:    "ok",
		Name:      buildinfo.Name,
		Version:   buildinfo.FullVersion(),
		Reader:    "Mock FeliCa Reader",
		Clients:   0,
		Timestamp: "2026-04-08T08:45:12Z",
	}
	if status != want {
		t.Errorf("status = %+v, want %+v", status, want)
	}
}

func TestHealthCheck_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/health", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/last-read", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != CORSAllowMethods {
		t.Errorf("allow methods = %q", got)
	}
}

func TestLastRead(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/last-read")
	if err != nil {
		t.Fatalf("GET last-read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status before any read = %d, want 404", resp.StatusCode)
	}

	ctx := context.Background()
	s.Report(ctx, readEvent())
	s.Report(ctx, session.Event{ID: "later", Type: session.EventCardReleased, Time: testTime})

	resp, err = http.Get(ts.URL + "/api/v1/last-read")
	if err != nil {
		t.Fatalf("GET last-read: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var msg struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Payload struct {
			TagID  string `json:"tag_id"`
			Record struct {
				ID   string `json:"student_id"`
				Name string `json:"name"`
			} `json:"record"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if msg.ID != readEvent().ID || msg.Type != "read_success" {
		t.Errorf("id/type = %q/%q", msg.ID, msg.Type)
	}
	if msg.Payload.TagID != "0101060ACA0F0001" || msg.Payload.Record.ID != "1234567" {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestWebSocket_BroadcastsEvents(t *testing.T) {
	s, ts := newTestServer(t)
	first := dial(t, ts)
	second := dial(t, ts)

	if got := s.clients.Count(); got != 2 {
		t.Fatalf("clients = %d, want 2", got)
	}

	failure := &session.Failure{Kind: session.KindClassificationMismatch, Reason: "not the target card type"}
	s.Report(context.Background(), session.Event{
		ID:      "ev-1",
		Type:    session.EventClassificationMismatch,
		Time:    testTime,
		TagID:   "0102030405060708",
		Failure: failure,
	})

	for i, conn := range []*websocket.Conn{first, second} {
		var msg struct {
			ID      string `json:"id"`
			Type    string `json:"type"`
			Payload struct {
				TagID   string `json:"tag_id"`
				Failure struct {
					Kind   string `json:"kind"`
					Reason string `json:"reason"`
				} `json:"failure"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if msg.ID != "ev-1" || msg.Type != "classification_mismatch" {
			t.Errorf("client %d id/type = %q/%q", i, msg.ID, msg.Type)
		}
		if msg.Payload.Failure.Kind != "classification_mismatch" || msg.Payload.Failure.Reason != failure.Reason {
			t.Errorf("client %d failure = %+v", i, msg.Payload.Failure)
		}
	}
}

func TestWebSocket_Requests(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	tests := []struct {
		name        string
		request     string
		wantType    string
		wantSuccess bool
		wantCode    string
	}{
		{"last read before any read", `{"id":"1","type":"getLastRead"}`, WSMessageTypeError, false, "NO_READ"},
		{"status", `{"id":"2","type":"getStatus"}`, WSMessageTypeGetStatus, true, ""},
		{"unknown type", `{"id":"3","type":"writeRequest"}`, WSMessageTypeError, false, "UNKNOWN_TYPE"},
		{"invalid json", `{`, WSMessageTypeError, false, "PARSE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.request)); err != nil {
				t.Fatalf("write: %v", err)
			}
			var resp struct {
				Type    string         `json:"type"`
				Success bool           `json:"success"`
				Payload map[string]any `json:"payload"`
			}
			if err := conn.ReadJSON(&resp); err != nil {
				t.Fatalf("read: %v", err)
			}
			if resp.Type != tt.wantType || resp.Success != tt.wantSuccess {
				t.Errorf("response = %+v", resp)
			}
			if tt.wantCode != "" && resp.Payload["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", resp.Payload["code"], tt.wantCode)
			}
		})
	}

	s.Report(context.Background(), readEvent())
	var broadcast WebsocketMessage
	if err := conn.ReadJSON(&broadcast); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"4","type":"getLastRead"}`))
	var resp struct {
		ID      string           `json:"id"`
		Success bool             `json:"success"`
		Payload WebsocketMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != "4" || !resp.Success || resp.Payload.Type != "read_success" {
		t.Errorf("getLastRead response = %+v", resp)
	}
}

func TestWebSocket_UnregistersOnDisconnect(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.clients.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_DropsStalledClient(t *testing.T) {
	s := New(Config{WriteTimeout: 50 * time.Millisecond})
	s.logger.SetOutput(io.Discard)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.clients.CloseAll()
		ts.Close()
	})

	// The client stops reading after the status message.
	dial(t, ts)

	ev := readEvent()
	ev.Record.Name = strings.Repeat("A", 1<<20)
	for i := 0; s.clients.Count() > 0; i++ {
		if i == 64 {
			t.Fatal("stalled client was never dropped")
		}
		start := time.Now()
		s.Report(context.Background(), ev)
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("Report() blocked for %v on a stalled client", elapsed)
		}
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Port: 0, MDNS: false})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("Addr() = %q: %v", s.Addr(), err)
	}
	url := "http://127.0.0.1:" + port + "/api/v1/health"

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()

	s.Stop()
	if _, err := http.Get(url); err == nil {
		t.Error("server still answering after Stop()")
	}
}
