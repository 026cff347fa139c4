package notify

import (
	"context"
	"log"

	"github.com/nedpals/davi-felica-agent/session"
)

// Multi reports each event to every notifier in order. A notifier that panics is
// logged and skipped.
type Multi []session.Notifier

func (m Multi) Report(ctx context.Context, ev session.Event) {
	for _, n := range m {
		report(ctx, n, ev)
	}
}

func report(ctx context.Context, n session.Notifier, ev session.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] %T panicked on %s: %v", n, ev.Type, r)
		}
	}()
	n.Report(ctx, ev)
}
