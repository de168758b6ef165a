package tgui

import (
	"fmt"
	"strings"
)

// Card is a titled block of lines, the shape of most bot replies.
type Card struct {
	lines []string
}

// NewCard starts a card with a bold title. emoji may be empty.
func NewCard(emoji, title string) *Card {
	c := &Card{}
	head := B(title)
	if emoji != "" {
		head = H(emoji + " " + string(head))
	}
	c.lines = append(c.lines, string(head))
	return c
}

// Line appends escaped text.
func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, string(Esc(s)))
	return c
}

// Linef appends escaped formatted text.
func (c *Card) Linef(format string, args ...any) *Card {
	return c.Line(fmt.Sprintf(format, args...))
}

// HTML appends a line that is already safe.
func (c *Card) HTML(h H) *Card {
	c.lines = append(c.lines, string(h))
	return c
}

// KV appends "key: value" with both sides escaped.
func (c *Card) KV(key, value string) *Card {
	return c.Line(key + ": " + value)
}

// Hint appends a tappable command suggestion.
func (c *Card) Hint(label, command string) *Card {
	return c.HTML(Esc(label+": ") + Code(command))
}

func (c *Card) Len() int { return len(c.lines) }

// String renders the card, trimmed to one Telegram message.
func (c *Card) String() string {
	return TruncRunes(strings.Join(c.lines, "\n"), MaxMessageRunes)
}
