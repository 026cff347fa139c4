package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nedpals/davi-felica-agent/buildinfo"
	"github.com/nedpals/davi-felica-agent/session"
)

// Submission failures, as the operator sees them.
var (
	ErrConnect = errors.New("failed to connect to the server")
	ErrSend    = errors.New("failed to send data to the server")
)

// Player plays the success sound without blocking.
type Player interface {
	Play()
}

// Endpoint posts the student id of each successful read to an HTTP endpoint.
type Endpoint struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Out     Printer
	// Sound is played after a successful submission. May be nil.
	Sound  Player
	Logger *log.Logger
}

// NewEndpoint creates an Endpoint. An empty url disables submission.
func NewEndpoint(url string, timeout time.Duration, out Printer, sound Player) *Endpoint {
	return &Endpoint{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{},
		Out:     out,
		Sound:   sound,
		Logger:  log.New(os.Stderr, "[notify] ", log.LstdFlags),
	}
}

type submission struct {
	StudentID string `json:"student_id"`
}

// Report submits successful reads. The call blocks for at most Timeout.
func (e *Endpoint) Report(ctx context.Context, ev session.Event) {
	if e.URL == "" || ev.Type != session.EventReadSuccess || ev.Record == nil {
		return
	}

	err := e.Submit(ctx, ev.Record.ID)
	switch {
	case err == nil:
		e.Out.Print(LevelSuccess, "Sent data to the server.")
		if e.Sound != nil {
			e.Sound.Play()
		}
	case errors.Is(err, ErrConnect):
		e.Logger.Printf("POST %s: %v", e.URL, err)
		e.Out.Print(LevelError, "Failed to connect to the server.")
	default:
		e.Logger.Printf("POST %s: %v", e.URL, err)
		e.Out.Print(LevelError, "Failed to send data to the server.")
	}
}

// Submit posts {"student_id": id}. Any non-2xx status is a failure.
func (e *Endpoint) Submit(ctx context.Context, studentID string) error {
	body, err := json.Marshal(submission{StudentID: studentID})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", ErrConnect, err)
		}
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrSend, resp.Status)
	}
	return nil
}
