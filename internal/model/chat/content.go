package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PartText is the discriminant of a plain text part.
const PartText = "text"

// Part is one typed fragment of a message's content. Unknown kinds are kept
// verbatim in Extra so they survive a storage round trip.
type Part struct {
	Type  string                     `json:"type"`
	Text  string                     `json:"text,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func (p Part) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["type"] = p.Type
	if p.Type == PartText || p.Text != "" {
		out["text"] = p.Text
	}
	return json.Marshal(out)
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Part{}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &p.Type); err != nil {
			return fmt.Errorf("part type: %w", err)
		}
		delete(raw, "type")
	}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &p.Text); err != nil {
			return fmt.Errorf("part text: %w", err)
		}
		delete(raw, "text")
	}
	if p.Type == "" {
		p.Type = PartText
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// Parts is the ordered content of a message.
type Parts []Part

// Text concatenates every text part.
func (ps Parts) Text() string {
	var b strings.Builder
	for _, p := range ps {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Content is the wire form of message content: either a flat string or an
// array of parts. It only exists at the boundary; Parts() is what the rest of
// the code sees.
type Content struct {
	parts Parts
}

// PlainText wraps a flat string into a single text part.
func PlainText(s string) Content {
	return Content{parts: Parts{TextPart(s)}}
}

// FromParts wraps an existing part list.
func FromParts(ps Parts) Content {
	return Content{parts: ps}
}

func (c Content) Parts() Parts { return c.parts }

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		c.parts = nil
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = PlainText(s)
		return nil
	case data[0] == '[':
		var ps Parts
		if err := json.Unmarshal(data, &ps); err != nil {
			return err
		}
		c.parts = ps
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.parts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.parts)
}

// UnmarshalJSON accepts {"role", "parts"} and {"role", "content"} shapes.
// A non-empty parts array wins over content.
func (m *IncomingMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID      string  `json:"id"`
		Role    Role    `json:"role"`
		Content Content `json:"content"`
		Parts   Parts   `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	m.ID = wire.ID
	m.Role = wire.Role
	m.Parts = wire.Parts
	if len(m.Parts) == 0 {
		m.Parts = wire.Content.Parts()
	}
	if m.Parts == nil {
		m.Parts = Parts{TextPart("")}
	}
	return nil
}
