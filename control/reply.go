package control

import (
	"strings"
)

// Reply is the user-facing result of a command.
type Reply struct {
	OK   bool
	Text string
	Card *Card
}

// Card is a small key/value summary rendered on one line by text front ends.
type Card struct {
	Title  string
	Fields []Field
}

// Field is one card entry.
type Field struct {
	Name  string
	Value string
}

// Add appends a field.
func (c *Card) Add(name, value string) *Card {
	c.Fields = append(c.Fields, Field{Name: name, Value: value})
	return c
}

// Line renders the card as "Title | Name: Value | ...".
func (c *Card) Line() string {
	if c == nil {
		return ""
	}
	parts := make([]string, 0, len(c.Fields)+1)
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	for _, f := range c.Fields {
		parts = append(parts, f.Name+": "+f.Value)
	}
	return strings.Join(parts, " | ")
}

func ok(text string) Reply   { return Reply{OK: true, Text: text} }
func fail(text string) Reply { return Reply{OK: false, Text: "ERROR: " + text} }
