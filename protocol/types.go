package protocol

import (
	"encoding/json"

	"github.com/storyport/glkbridge/errors"
	"github.com/storyport/glkbridge/glk"
)

// UpdateType tags the update union.
type UpdateType string

const (
	UpdateInit   UpdateType = "init"
	UpdateUpdate UpdateType = "update"
	UpdateError  UpdateType = "error"
	UpdateExit   UpdateType = "exit"

	// UpdateFilerefPrompt is emitted by interpreters that need a file
	// name chosen for them; it never reaches the client.
	UpdateFilerefPrompt UpdateType = "fileref_prompt"

	// UpdateInputRequest is the interpreter dialect's standalone input
	// request line: the target windows ride the windows array as
	// {id, type} pairs.
	UpdateInputRequest UpdateType = "input"
)

// Metrics are the viewport dimensions negotiated at init.
type Metrics struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowUpdate is one window's geometry on the wire.
type WindowUpdate struct {
	ID     uint32 `json:"id"`
	Type   string `json:"type"`
	Rock   uint32 `json:"rock"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ContentUpdate is one window's appended content on the wire. The
// interpreter dialect also announces window creation here, as an
// op:"create" entry carrying the numeric Glk window type.
type ContentUpdate struct {
	ID    uint32 `json:"id"`
	Clear bool   `json:"clear,omitempty"`
	Text  []Span `json:"text,omitempty"`

	Win     uint32 `json:"win,omitempty"`
	Op      string `json:"op,omitempty"`
	WinType uint32 `json:"wintype,omitempty"`
}

// InputUpdate is the outstanding input request on the wire.
type InputUpdate struct {
	ID        uint32 `json:"id"`
	Type      string `json:"type"`
	Gen       int    `json:"gen"`
	MaxLength int    `json:"maxlen,omitempty"`
}

// Update is one wire line in the output direction.
type Update struct {
	Type    UpdateType      `json:"type"`
	Gen     int             `json:"gen"`
	Support []string        `json:"support,omitempty"`
	Metrics *Metrics        `json:"metrics,omitempty"`
	Windows []WindowUpdate  `json:"windows,omitempty"`
	Content []ContentUpdate `json:"content,omitempty"`
	Input   []InputUpdate   `json:"input,omitempty"`
	Message string          `json:"message,omitempty"`
	Status  int             `json:"status,omitempty"`

	// fileref_prompt fields, interpreter dialect only.
	Usage    uint32 `json:"usage,omitempty"`
	FileMode uint32 `json:"fmode,omitempty"`
}

// Span mirrors glk.Span on the wire. Default-style text marshals as a
// bare string; styled runs and specials marshal as objects
// distinguished by shape.
type Span struct {
	Style     string `json:"style,omitempty"`
	Text      string `json:"text,omitempty"`
	Hyperlink uint32 `json:"hyperlink,omitempty"`

	Special   string `json:"special,omitempty"` // "image" or "flowbreak"
	Image     uint32 `json:"image,omitempty"`
	Alignment string `json:"alignment,omitempty"`
	Width     uint32 `json:"width,omitempty"`
	Height    uint32 `json:"height,omitempty"`
}

// MarshalJSON writes default-style text spans as plain strings.
func (s Span) MarshalJSON() ([]byte, error) {
	if s.Special == "" && s.Hyperlink == 0 && (s.Style == "" || s.Style == "normal") {
		return json.Marshal(s.Text)
	}
	type raw Span
	return json.Marshal(raw(s))
}

// UnmarshalJSON accepts both the string and the object shape.
func (s *Span) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		s.Style = "normal"
		return json.Unmarshal(data, &s.Text)
	}
	type raw Span
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = Span(r)
	if s.Special == "" && s.Style == "" {
		s.Style = "normal"
	}
	return nil
}

// fromGlkSpan converts a runtime span to its wire shape.
func fromGlkSpan(sp glk.Span) Span {
	switch {
	case sp.FlowBreak:
		return Span{Special: "flowbreak"}
	case sp.Image != nil:
		return Span{
			Special:   "image",
			Image:     sp.Image.Number,
			Alignment: sp.Image.Alignment,
			Width:     sp.Image.Width,
			Height:    sp.Image.Height,
		}
	default:
		return Span{Style: sp.Style, Text: sp.Text, Hyperlink: sp.Hyperlink}
	}
}

// EventType tags the input event union.
type EventType string

const (
	EventLine      EventType = "line"
	EventChar      EventType = "char"
	EventArrange   EventType = "arrange"
	EventRedraw    EventType = "redraw"
	EventHyperlink EventType = "hyperlink"
	EventPointer   EventType = "pointer"
	EventInit      EventType = "init"
)

// Event is one wire line in the input direction.
type Event struct {
	Type    EventType `json:"type"`
	Gen     int       `json:"gen"`
	Window  uint32    `json:"window,omitempty"`
	Value   string    `json:"value,omitempty"`
	Number  uint32    `json:"number,omitempty"`
	X       int       `json:"x,omitempty"`
	Y       int       `json:"y,omitempty"`
	Metrics *Metrics  `json:"metrics,omitempty"`
	Support []string  `json:"support,omitempty"`
}

// generationChecked reports whether this event kind carries input that
// must match the outstanding request's generation.
func (e *Event) generationChecked() bool {
	switch e.Type {
	case EventLine, EventChar, EventHyperlink, EventPointer:
		return true
	}
	return false
}

func windowTypeName(t glk.WindowType) string {
	return t.String()
}

var updateTypes = map[UpdateType]bool{
	UpdateInit: true, UpdateUpdate: true, UpdateError: true,
	UpdateExit: true, UpdateFilerefPrompt: true,
	UpdateInputRequest: true,
}

var eventTypes = map[EventType]bool{
	EventLine: true, EventChar: true, EventArrange: true,
	EventRedraw: true, EventHyperlink: true, EventPointer: true,
	EventInit: true,
}

func unknownTag(kind, tag string) error {
	return errors.New(errors.PhaseProtocol, errors.KindInvalidData).
		Detail("unknown %s tag %q", kind, tag).Build()
}
