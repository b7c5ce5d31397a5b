package protocol

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/storyport/glkbridge/errors"
	"github.com/storyport/glkbridge/glk"
)

// Codec translates between runtime batches and wire lines for one run.
// It remembers the generation of the last emitted input request and
// drops input events that arrive stamped with any other generation.
type Codec struct {
	log     *zap.Logger
	metrics Metrics
	support []string

	emittedInit  bool
	lastInputGen int
}

// NewCodec creates a codec with the negotiated viewport metrics and
// capability list. logger may be nil.
func NewCodec(metrics Metrics, support []string, logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{log: logger, metrics: metrics, support: support}
}

// LastInputGen returns the generation stamped on the most recently
// flushed input request.
func (c *Codec) LastInputGen() int { return c.lastInputGen }

// Init builds the client init update carrying capabilities and
// metrics. An interpreter-announced support list overrides the
// negotiated one. Later flushes will not emit init again.
func (c *Codec) Init(support []string) Update {
	c.emittedInit = true
	if support == nil {
		support = c.support
	}
	m := c.metrics
	return Update{Type: UpdateInit, Gen: 0, Support: support, Metrics: &m}
}

// Flush serializes one runtime batch into wire updates. The very first
// flush prepends the init update carrying capabilities and metrics.
// Geometry changes come before content, content before the input
// request; everything is stamped with the batch generation.
func (c *Codec) Flush(batch glk.Batch) []Update {
	var out []Update

	if !c.emittedInit {
		out = append(out, c.Init(nil))
	}

	u := Update{Type: UpdateUpdate, Gen: batch.Gen}

	for _, w := range batch.Windows {
		u.Windows = append(u.Windows, WindowUpdate{
			ID: w.ID, Type: windowTypeName(w.Type), Rock: w.Rock,
			Left: w.Left, Top: w.Top, Width: w.Width, Height: w.Height,
		})
	}
	for _, cw := range batch.Content {
		wc := ContentUpdate{ID: cw.ID, Clear: cw.Clear}
		for _, sp := range cw.Spans {
			wc.Text = append(wc.Text, fromGlkSpan(sp))
		}
		u.Content = append(u.Content, wc)
	}
	if batch.Input != nil {
		u.Input = append(u.Input, InputUpdate{
			ID:        batch.Input.WindowID,
			Type:      batch.Input.Type.String(),
			Gen:       batch.Input.Gen,
			MaxLength: batch.Input.MaxLength,
		})
		c.lastInputGen = batch.Input.Gen
	}

	return append(out, u)
}

// Error builds an error update line.
func (c *Codec) Error(message string) Update {
	return Update{Type: UpdateError, Message: message}
}

// Exit builds a clean exit update line.
func (c *Codec) Exit(gen, status int) Update {
	return Update{Type: UpdateExit, Gen: gen, Status: status}
}

// EncodeUpdate marshals one update as a newline-terminated wire line.
func EncodeUpdate(u Update) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "encode update")
	}
	return append(data, '\n'), nil
}

// EncodeEvent marshals one input event as a newline-terminated wire
// line.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "encode event")
	}
	return append(data, '\n'), nil
}

// ParseUpdate parses one wire line from the output direction. The
// union is closed: unknown tags are an explicit error, never an open
// map.
func ParseUpdate(line []byte) (*Update, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errors.InvalidData(errors.PhaseProtocol, "empty update line")
	}
	var u Update
	if err := json.Unmarshal(line, &u); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "parse update line")
	}
	if !updateTypes[u.Type] {
		return nil, unknownTag("update", string(u.Type))
	}
	return &u, nil
}

// ParseEvent parses one wire line from the input direction. A
// generation-checked event stamped with anything but the last emitted
// input request's generation is dropped: ParseEvent returns (nil, nil)
// and logs, because stale input is a view race, not a protocol error.
func (c *Codec) ParseEvent(line []byte) (*Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errors.InvalidData(errors.PhaseProtocol, "empty event line")
	}
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "parse event line")
	}
	if !eventTypes[e.Type] {
		return nil, unknownTag("event", string(e.Type))
	}
	if e.generationChecked() && e.Gen != c.lastInputGen {
		c.log.Debug("dropping stale input event",
			zap.String("type", string(e.Type)),
			zap.Int("eventGen", e.Gen),
			zap.Int("lastInputGen", c.lastInputGen))
		return nil, nil
	}
	return &e, nil
}
