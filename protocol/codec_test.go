package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/storyport/glkbridge/glk"
)

func TestFlushEmitsInitFirst(t *testing.T) {
	c := NewCodec(Metrics{Width: 80, Height: 24}, []string{"unicode", "hyperlinks"}, nil)

	m := glk.NewModel(nil)
	w, err := m.OpenWindow(nil, glk.SplitPolicy{}, glk.WinTextBuffer, 0)
	if err != nil {
		t.Fatalf("OpenWindow error: %v", err)
	}
	m.SetWindow(w)
	m.PutText("Welcome.")
	if err := m.RequestLine(w, 256); err != nil {
		t.Fatalf("RequestLine error: %v", err)
	}

	updates := c.Flush(m.Select())
	if len(updates) != 2 {
		t.Fatalf("first flush produced %d updates, want init + update", len(updates))
	}
	init := updates[0]
	if init.Type != UpdateInit || init.Gen != 0 {
		t.Errorf("init update = %+v", init)
	}
	if init.Metrics == nil || init.Metrics.Width != 80 {
		t.Errorf("init metrics = %+v", init.Metrics)
	}

	upd := updates[1]
	if upd.Type != UpdateUpdate || upd.Gen != 1 {
		t.Errorf("update = type %q gen %d", upd.Type, upd.Gen)
	}
	if len(upd.Input) != 1 || upd.Input[0].Gen != 1 || upd.Input[0].Type != "line" {
		t.Errorf("input request = %+v", upd.Input)
	}
	if c.LastInputGen() != 1 {
		t.Errorf("LastInputGen = %d, want 1", c.LastInputGen())
	}

	// Second flush carries no init.
	m.PutText("More.")
	if got := c.Flush(m.Select()); len(got) != 1 || got[0].Type != UpdateUpdate {
		t.Errorf("second flush = %+v", got)
	}
}

func TestSpanWireShapes(t *testing.T) {
	tests := []struct {
		name string
		span glk.Span
		want string
	}{
		{
			name: "default style is a bare string",
			span: glk.Span{Style: "normal", Text: "Hello"},
			want: `"Hello"`,
		},
		{
			name: "styled run is an object",
			span: glk.Span{Style: "emphasized", Text: "loud"},
			want: `{"style":"emphasized","text":"loud"}`,
		},
		{
			name: "hyperlink tagging keeps the object shape",
			span: glk.Span{Style: "normal", Text: "here", Hyperlink: 3},
			want: `{"style":"normal","text":"here","hyperlink":3}`,
		},
		{
			name: "image special",
			span: glk.Span{Image: &glk.ImageRef{Number: 2, Alignment: "inlineup"}},
			want: `{"special":"image","image":2,"alignment":"inlineup"}`,
		},
		{
			name: "flow break special",
			span: glk.Span{FlowBreak: true},
			want: `{"special":"flowbreak"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(fromGlkSpan(tt.span))
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("wire = %s, want %s", data, tt.want)
			}

			var back Span
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if back.Text != tt.span.Text {
				t.Errorf("round trip text = %q, want %q", back.Text, tt.span.Text)
			}
			wantSpecial := tt.span.Image != nil || tt.span.FlowBreak
			if (back.Special != "") != wantSpecial {
				t.Errorf("round trip special = %q", back.Special)
			}
		})
	}
}

func TestParseUpdateInitLine(t *testing.T) {
	// An interpreter-announced init line surfaces its support list.
	u, err := ParseUpdate([]byte(`{"type":"init","gen":1,"support":["graphics"]}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}
	if u.Type != UpdateInit {
		t.Errorf("Type = %q, want init", u.Type)
	}
	if len(u.Support) != 1 || u.Support[0] != "graphics" {
		t.Errorf("Support = %v, want [graphics]", u.Support)
	}
}

func TestParseUpdateContentLine(t *testing.T) {
	line := `{"type":"update","gen":2,"content":[{"id":1,"text":[{"style":"normal","text":"Hello"}]}]}`
	u, err := ParseUpdate([]byte(line))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}
	if len(u.Content) != 1 || u.Content[0].ID != 1 {
		t.Fatalf("Content = %+v", u.Content)
	}
	spans := u.Content[0].Text
	if len(spans) != 1 || spans[0].Text != "Hello" || spans[0].Style != "normal" {
		t.Errorf("spans = %+v, want one normal span with literal Hello", spans)
	}
}

func TestParseUpdateInterpreterDialectLines(t *testing.T) {
	// Window creation rides a content entry with op and wintype.
	u, err := ParseUpdate([]byte(`{"type":"update","content":[{"id":2,"win":2,"op":"create","wintype":4}]}`))
	if err != nil {
		t.Fatalf("ParseUpdate create line: %v", err)
	}
	if len(u.Content) != 1 {
		t.Fatalf("Content = %+v, want one entry", u.Content)
	}
	if cu := u.Content[0]; cu.Op != "create" || cu.WinType != 4 || cu.Win != 2 {
		t.Errorf("create entry = %+v", cu)
	}

	// Input requests ride a standalone input line naming the window.
	u, err = ParseUpdate([]byte(`{"type":"input","gen":1,"windows":[{"id":1,"type":"line"}]}`))
	if err != nil {
		t.Fatalf("ParseUpdate input line: %v", err)
	}
	if u.Type != UpdateInputRequest {
		t.Errorf("Type = %q, want input", u.Type)
	}
	if len(u.Windows) != 1 || u.Windows[0].ID != 1 || u.Windows[0].Type != "line" {
		t.Errorf("Windows = %+v, want one line request for window 1", u.Windows)
	}
}

func TestParseUpdateRejectsUnknownTag(t *testing.T) {
	if _, err := ParseUpdate([]byte(`{"type":"telemetry","gen":0}`)); err == nil {
		t.Error("unknown update tag must be rejected explicitly")
	}
	if _, err := ParseUpdate([]byte(`not json`)); err == nil {
		t.Error("malformed line must be rejected")
	}
}

func TestParseEventGenerationCheck(t *testing.T) {
	c := NewCodec(Metrics{Width: 80, Height: 24}, nil, nil)

	m := glk.NewModel(nil)
	w, _ := m.OpenWindow(nil, glk.SplitPolicy{}, glk.WinTextBuffer, 0)
	if err := m.RequestLine(w, 80); err != nil {
		t.Fatalf("RequestLine error: %v", err)
	}
	c.Flush(m.Select()) // input request at gen 1

	// Stale generation: dropped, not errored.
	ev, err := c.ParseEvent([]byte(`{"type":"line","gen":9,"window":1,"value":"north"}`))
	if err != nil {
		t.Fatalf("stale event errored: %v", err)
	}
	if ev != nil {
		t.Errorf("stale event = %+v, want dropped", ev)
	}

	// Matching generation passes.
	ev, err = c.ParseEvent([]byte(`{"type":"line","gen":1,"window":1,"value":"north"}`))
	if err != nil || ev == nil {
		t.Fatalf("matching event = %+v, %v", ev, err)
	}
	if ev.Value != "north" || ev.Window != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseEventArrangeSkipsGenerationCheck(t *testing.T) {
	c := NewCodec(Metrics{}, nil, nil)
	ev, err := c.ParseEvent([]byte(`{"type":"arrange","gen":42,"metrics":{"width":100,"height":40}}`))
	if err != nil || ev == nil {
		t.Fatalf("arrange event = %+v, %v", ev, err)
	}
	if ev.Metrics == nil || ev.Metrics.Width != 100 {
		t.Errorf("metrics = %+v", ev.Metrics)
	}
}

func TestParseEventRejectsUnknownTag(t *testing.T) {
	c := NewCodec(Metrics{}, nil, nil)
	if _, err := c.ParseEvent([]byte(`{"type":"teleport","gen":0}`)); err == nil {
		t.Error("unknown event tag must be rejected explicitly")
	}
}

func TestEncodeNewlineDelimited(t *testing.T) {
	data, err := EncodeUpdate(Update{Type: UpdateError, Message: "boom"})
	if err != nil {
		t.Fatalf("EncodeUpdate error: %v", err)
	}
	s := string(data)
	if !strings.HasSuffix(s, "\n") || strings.Count(s, "\n") != 1 {
		t.Errorf("wire line = %q, want exactly one trailing newline", s)
	}

	data, err = EncodeEvent(Event{Type: EventChar, Gen: 3, Window: 1, Value: " "})
	if err != nil {
		t.Fatalf("EncodeEvent error: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Errorf("event line = %q, want trailing newline", data)
	}
}

func TestFilerefPromptDialect(t *testing.T) {
	u, err := ParseUpdate([]byte(`{"type":"fileref_prompt","usage":1,"fmode":1}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}
	if u.Type != UpdateFilerefPrompt || u.Usage != 1 {
		t.Errorf("update = %+v", u)
	}
}
