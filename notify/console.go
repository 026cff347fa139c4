// Package notify holds the collaborators that receive session events: the operator
// console, the transcript, the HTTP endpoint, the success sound, MQTT and the
// Redis attendance store.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/session"
)

// Level tags an operator line.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "SUCCESS"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ANSI colour of each level tag.
var levelColors = map[Level]string{
	LevelInfo:    "\x1b[1;96m",
	LevelSuccess: "\x1b[1;92m",
	LevelWarning: "\x1b[1;93m",
	LevelError:   "\x1b[1;91m",
}

const colorReset = "\x1b[0m"

// Printer writes operator lines.
type Printer interface {
	Print(level Level, message string, details ...string)
}

// Entry is one operator line.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Details []string
}

// Console prints one tab separated line per event and records it in the transcript.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	color      bool
	transcript *Transcript
	now        func() time.Time
}

// NewConsole creates a Console writing to out. Colour is used only when out is a terminal.
// transcript may be nil.
func NewConsole(out io.Writer, transcript *Transcript) *Console {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Console{out: out, color: color, transcript: transcript, now: time.Now}
}

// Print writes one line.
func (c *Console) Print(level Level, message string, details ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{Time: c.now(), Level: level, Message: message, Details: details}

	tag := level.String()
	if c.color {
		tag = levelColors[level] + tag + colorReset
	}
	fields := append([]string{entry.Time.Format("15:04:05"), tag, message}, details...)
	fmt.Fprintln(c.out, strings.Join(fields, "\t"))

	if c.transcript != nil {
		c.transcript.Append(entry)
	}
}

// Prompt tells the operator the reader is ready.
func (c *Console) Prompt() {
	c.Print(LevelInfo, "Hold your student ID card on the card reader...")
}

// Report prints the line for one session event.
func (c *Console) Report(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventCardDetected:
		c.Print(LevelInfo, fmt.Sprintf("Connected to the card with Manufacture ID of %s.", ev.TagID))
	case session.EventCardReleased:
		c.Print(LevelInfo, fmt.Sprintf("Released the card with Manufacture ID of %s.", ev.TagID))
	case session.EventClassificationMismatch:
		c.Print(LevelError, fmt.Sprintf("The card is not %s.", idcard.CardName))
	case session.EventReadSuccess:
		c.Print(LevelSuccess, "Read the card information.",
			"Student ID: "+ev.Record.ID,
			"Student Name: "+ev.Record.Name,
		)
	case session.EventReadFailure:
		c.Print(LevelError, failureMessage(ev.Failure))
	}
}

func failureMessage(f *session.Failure) string {
	if f == nil {
		return "The card could not be read."
	}
	if f.Kind == session.KindCardIO && strings.HasPrefix(f.Reason, "card left reader") {
		return "The card left the card reader during the reading process."
	}
	text := f.Reason
	if f.Kind == session.KindInternal {
		text = f.Error()
	}
	return sentence(text)
}

// sentence capitalises s and ends it with a full stop.
func sentence(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
