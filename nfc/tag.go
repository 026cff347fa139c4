package nfc

import (
	"fmt"

	"github.com/nedpals/davi-felica-agent/felica"
)

// Tag types
const (
	TagTypeFelica    = "FeliCa"
	TagTypeISO14443A = "ISO14443A"
	TagTypeUnknown   = "Unknown"
)

// Tag represents a tag in the reader field for the duration of one connection.
//
// Tags other than FeliCa cards only expose identification. Use a type
// assertion to reach the FeliCa command set:
//
//	if fp, ok := tag.(nfc.FelicaProvider); ok {
//	    codes, _ := fp.FelicaCard().RequestSystemCode()
//	}
type Tag interface {
	UID() string
	Type() string
	// Dump returns diagnostic lines describing the tag.
	Dump() ([]string, error)
}

// FelicaProvider provides access to the underlying FeliCa card of a tag.
type FelicaProvider interface {
	FelicaCard() *felica.Card
}

// FelicaTag is a FeliCa card. It embeds *felica.Card, so the FeliCa commands
// are available directly on the tag.
type FelicaTag struct {
	*felica.Card
	uid string
}

// NewFelicaTag wraps a polled card. The UID is fixed to the IDm at detection
// time, even when later polling readdresses the card.
func NewFelicaTag(card *felica.Card) *FelicaTag {
	return &FelicaTag{Card: card, uid: card.IDm().String()}
}

func (t *FelicaTag) UID() string {
	return t.uid
}

func (t *FelicaTag) FelicaCard() *felica.Card {
	return t.Card
}

func (t *FelicaTag) Type() string {
	return TagTypeFelica
}

// Dump lists IDm, PMm and, for FeliCa Standard cards, the declared system codes.
func (t *FelicaTag) Dump() ([]string, error) {
	lines := t.Card.Dump()
	if !t.IsStandard() {
		return lines, nil
	}
	codes, err := t.RequestSystemCode()
	if err != nil {
		return lines, err
	}
	for _, code := range codes {
		lines = append(lines, fmt.Sprintf("System %04X", code))
	}
	return lines, nil
}

// basicTag is a tag the agent can identify but not talk to.
type basicTag struct {
	uid     string
	tagType string
	info    []string
}

func (t *basicTag) UID() string {
	return t.uid
}

func (t *basicTag) Type() string {
	return t.tagType
}

func (t *basicTag) Dump() ([]string, error) {
	lines := append([]string{"UID: " + t.uid, "Type: " + t.tagType}, t.info...)
	return lines, nil
}
