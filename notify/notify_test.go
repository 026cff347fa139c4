package notify

import (
	"sync"
	"time"

	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/session"
)

type printed struct {
	level   Level
	message string
	details []string
}

// fakePrinter records printed lines.
type fakePrinter struct {
	mu    sync.Mutex
	lines []printed
}

func (p *fakePrinter) Print(level Level, message string, details ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, printed{level, message, details})
}

func (p *fakePrinter) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lines))
	for i, l := range p.lines {
		out[i] = l.level.String() + " " + l.message
	}
	return out
}

// countingPlayer counts Play calls.
type countingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countingPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
}

func (p *countingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

var eventTime = time.Date(2026, 4, 8, 8, 45, 12, 0, time.Local)

func successEvent() session.Event {
	return session.Event{
		ID:    "5b0c3f4e-8a57-4f51-9c59-9f0d6e9a1c11",
		Type:  session.EventReadSuccess,
		Time:  eventTime,
		TagID: "0101060ACA0F0001",
		Record: &idcard.StudentRecord{
			Classification: "02",
			Role:           idcard.RoleStudent,
			ID:             "1234567",
			Name:           "YAMADA TARO     ",
		},
	}
}
