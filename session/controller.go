// Package session drives the reader one card at a time.
//
// Each tag in the field goes through an explicit state machine:
//
//	WaitingForCard -> Classifying -> ReadingID -> ReadingName -> Reporting -> WaitingForCard
//
// Any failure returns to WaitingForCard after exactly one terminal event.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/nfc"
)

// Controller owns a reader for the lifetime of Run.
type Controller struct {
	Device   nfc.Device
	Notifier Notifier
	Logger   *log.Logger

	// Verbose logs the diagnostic dump of every tag.
	Verbose bool

	// RetryInterval is the pause after a failed WaitForTag.
	RetryInterval time.Duration

	now   func() time.Time
	newID func() string
}

// New creates a Controller for device that reports to notifier.
func New(device nfc.Device, notifier Notifier) *Controller {
	return &Controller{
		Device:        device,
		Notifier:      notifier,
		Logger:        log.New(os.Stderr, "[session] ", log.LstdFlags),
		RetryInterval: time.Second,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
}

// cycle is the state carried through one card presentation.
type cycle struct {
	state State
	tag   nfc.Tag
	card  idcard.Card

	classification string
	id             string
	name           string
}

// Run handles cards until ctx is done, which returns nil. A card that cannot be
// used at detection is reported as a terminal event and the loop goes on. A
// reader that stops working returns a *Failure of KindStartup.
func (c *Controller) Run(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	c.Logger.Printf("Waiting for cards on %s (%s)", c.Device.String(), c.Device.Connection())

	for {
		tag, err := c.Device.WaitForTag(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if nfc.IsDeviceError(err) {
				return Classify(err)
			}
			if nfc.IsTagError(err) {
				c.detectFailed(ctx, err)
				continue
			}
			c.Logger.Printf("Error waiting for card: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RetryInterval):
			}
			continue
		}

		c.Handle(ctx, tag)

		if err := c.Device.WaitForRelease(ctx, tag); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Printf("Error waiting for card %s to leave: %v", tag.UID(), err)
			continue
		}
		c.report(ctx, tag, Event{Type: EventCardReleased})
	}
}

// Handle runs one card through the state machine and returns once it is back in WaitingForCard.
// A panic during the cycle is reported as a KindInternal failure.
func (c *Controller) Handle(ctx context.Context, tag nfc.Tag) {
	cy := &cycle{state: Classifying, tag: tag}

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Printf("Recovered from panic in %s: %v", cy.state, r)
			c.fail(ctx, cy, &Failure{Kind: KindInternal, Reason: "unexpected error", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	c.report(ctx, tag, Event{Type: EventCardDetected})
	if c.Verbose {
		c.dump(tag)
	}

	for cy.state != WaitingForCard {
		cy.state = c.step(ctx, cy)
	}
}

// step performs the work of cy.state and returns the next state.
func (c *Controller) step(ctx context.Context, cy *cycle) State {
	switch cy.state {
	case Classifying:
		fp, ok := cy.tag.(nfc.FelicaProvider)
		if !ok {
			return c.fail(ctx, cy, mismatch())
		}
		card := fp.FelicaCard()
		match, err := idcard.IsTargetCard(card)
		if err != nil {
			return c.fail(ctx, cy, err)
		}
		if !match {
			return c.fail(ctx, cy, mismatch())
		}
		if err := idcard.Refresh(card); err != nil {
			return c.fail(ctx, cy, err)
		}
		cy.card = card
		return ReadingID

	case ReadingID:
		raw, err := idcard.ReadBlock(cy.card, idcard.ServiceNumber, idcard.IdentifierBlock)
		if err != nil {
			return c.fail(ctx, cy, err)
		}
		cy.classification, cy.id, err = idcard.DecodeIdentifier(raw)
		if err != nil {
			return c.fail(ctx, cy, err)
		}
		return ReadingName

	case ReadingName:
		raw, err := idcard.ReadBlock(cy.card, idcard.ServiceNumber, idcard.NameBlock)
		if err != nil {
			return c.fail(ctx, cy, err)
		}
		cy.name, err = idcard.DecodeName(raw)
		if err != nil {
			return c.fail(ctx, cy, err)
		}
		return Reporting

	case Reporting:
		record := &idcard.StudentRecord{
			Classification: cy.classification,
			Role:           idcard.RoleOf(cy.classification),
			ID:             cy.id,
			Name:           cy.name,
		}
		c.report(ctx, cy.tag, Event{Type: EventReadSuccess, Record: record})
		return WaitingForCard
	}

	return c.fail(ctx, cy, fmt.Errorf("no step for state %s", cy.state))
}

// fail reports err as the terminal event of the cycle.
func (c *Controller) fail(ctx context.Context, cy *cycle, err error) State {
	f := Classify(err)
	eventType := EventReadFailure
	if f.Kind == KindClassificationMismatch {
		eventType = EventClassificationMismatch
	}
	if f.Err != nil {
		c.Logger.Printf("Card %s failed in %s: %v", cy.tag.UID(), cy.state, f.Err)
	}
	c.report(ctx, cy.tag, Event{Type: eventType, Failure: f})
	return WaitingForCard
}

// detectFailed reports a card that was seen in the field but never became a tag.
func (c *Controller) detectFailed(ctx context.Context, err error) {
	f := Classify(err)
	eventType := EventReadFailure
	if f.Kind == KindClassificationMismatch {
		eventType = EventClassificationMismatch
	}
	ev := Event{Type: eventType, Failure: f}
	var nfcErr *nfc.NFCError
	if errors.As(err, &nfcErr) {
		ev.TagID = nfcErr.TagUID
	}
	c.Logger.Printf("Card could not be used at detection: %v", err)
	c.report(ctx, nil, ev)
}

func (c *Controller) dump(tag nfc.Tag) {
	lines, err := tag.Dump()
	for _, line := range lines {
		c.Logger.Printf("  %s", line)
	}
	if err != nil {
		c.Logger.Printf("Dump of %s incomplete: %v", tag.UID(), err)
	}
}

// report stamps and delivers an event. A panicking notifier is logged and ignored.
func (c *Controller) report(ctx context.Context, tag nfc.Tag, ev Event) {
	if c.Notifier == nil {
		return
	}
	if c.newID != nil {
		ev.ID = c.newID()
	} else {
		ev.ID = uuid.New().String()
	}
	if c.now != nil {
		ev.Time = c.now()
	} else {
		ev.Time = time.Now()
	}
	if tag != nil {
		ev.TagID = tag.UID()
		ev.TagType = tag.Type()
	}

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Printf("Notifier panicked on %s: %v", ev.Type, r)
		}
	}()
	c.Notifier.Report(ctx, ev)
}
