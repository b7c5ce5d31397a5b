package glk

import (
	"go.uber.org/zap"

	"github.com/storyport/glkbridge/errors"
)

// RunState is the global interpreter state.
type RunState int

const (
	StateIdle RunState = iota
	StateAwaitingInput
)

// Model owns all windows and streams for one interpreter run.
type Model struct {
	log *zap.Logger

	windows map[uint32]*Window
	streams map[uint32]*Stream
	root    *Window
	current *Stream

	// Terminal metrics the layout divides up.
	cols, rows int

	gen   int
	state RunState
	req   *InputRequest

	// Window ids are never reused within a run.
	nextWin uint32
	nextStr uint32

	// Windows whose geometry changed since the last Select, in order.
	dirty []uint32
	// Windows with pending content, in first-touch order.
	touched []uint32
}

// NewModel creates an empty model. logger may be nil.
func NewModel(logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		log:     logger,
		windows: make(map[uint32]*Window),
		streams: make(map[uint32]*Stream),
		cols:    80,
		rows:    24,
		nextWin: 1,
		nextStr: 1,
	}
}

// SetMetrics sets the terminal size the window tree is laid out in.
func (m *Model) SetMetrics(cols, rows int) {
	if cols > 0 {
		m.cols = cols
	}
	if rows > 0 {
		m.rows = rows
	}
	m.relayout()
}

// Generation returns the generation of the most recent batch.
func (m *Model) Generation() int { return m.gen }

// State returns the global run state.
func (m *Model) State() RunState { return m.state }

// PendingRequest returns the outstanding input request, or nil.
func (m *Model) PendingRequest() *InputRequest { return m.req }

// Root returns the root window, or nil before the first open.
func (m *Model) Root() *Window { return m.root }

// Window returns the open window with the given id, or nil.
func (m *Model) Window(id uint32) *Window {
	return m.windows[id]
}

// newStream registers a stream and assigns its id.
func (m *Model) newStream(kind StreamKind, mode FileMode, rock uint32) *Stream {
	s := &Stream{ID: m.nextStr, Kind: kind, Mode: mode, Rock: rock, style: "normal"}
	m.nextStr++
	m.streams[s.ID] = s
	return s
}

// OpenWindow creates a window. A nil split makes it the root; otherwise
// the split window's place in the tree is taken by a new pair window
// holding both. The new window's stream is created alongside it.
func (m *Model) OpenWindow(split *Window, policy SplitPolicy, t WindowType, rock uint32) (*Window, error) {
	if t == WinPair {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "pair windows are created implicitly by splits")
	}
	if split == nil && m.root != nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "root window already open")
	}
	if split != nil && (split.closed || m.windows[split.ID] != split) {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "split window is not open")
	}

	w := &Window{ID: m.nextWin, Type: t, Rock: rock}
	m.nextWin++
	w.str = m.newStream(StreamWindow, ModeWrite, 0)
	w.str.win = w
	m.windows[w.ID] = w

	if split == nil {
		m.root = w
	} else {
		pair := &Window{ID: m.nextWin, Type: WinPair, policy: policy}
		m.nextWin++
		m.windows[pair.ID] = pair

		pair.parent = split.parent
		if split.parent != nil {
			if split.parent.child1 == split {
				split.parent.child1 = pair
			} else {
				split.parent.child2 = pair
			}
		} else {
			m.root = pair
		}
		pair.child1 = split
		pair.child2 = w
		split.parent = pair
		w.parent = pair
	}

	m.relayout()
	return w, nil
}

// CloseWindow closes w and its subtree. The sibling absorbs the pair
// window's rectangle. Returns the window stream's counters.
func (m *Model) CloseWindow(w *Window) (StreamResult, error) {
	if w == nil || w.closed || m.windows[w.ID] != w {
		return StreamResult{}, errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}

	var res StreamResult
	if w.str != nil {
		res = w.str.Result()
	}

	m.closeSubtree(w)

	if pair := w.parent; pair != nil {
		sib := w.Sibling()
		sib.parent = pair.parent
		if pair.parent != nil {
			if pair.parent.child1 == pair {
				pair.parent.child1 = sib
			} else {
				pair.parent.child2 = sib
			}
		} else {
			m.root = sib
		}
		pair.closed = true
		delete(m.windows, pair.ID)
	} else {
		m.root = nil
	}

	m.relayout()
	return res, nil
}

func (m *Model) closeSubtree(w *Window) {
	if w == nil {
		return
	}
	m.closeSubtree(w.child1)
	m.closeSubtree(w.child2)
	if w.str != nil {
		if m.current == w.str {
			m.current = nil
		}
		w.str.closed = true
		delete(m.streams, w.str.ID)
	}
	if m.req != nil && m.req.WindowID == w.ID {
		m.req = nil
		m.state = StateIdle
	}
	w.closed = true
	delete(m.windows, w.ID)
}

// PlaceWindow stamps geometry computed outside the layout pass, for
// callers mirroring a window tree laid out elsewhere. The window is
// reported in the next batch.
func (m *Model) PlaceWindow(w *Window, left, top, width, height int) error {
	if w == nil || w.closed || m.windows[w.ID] != w {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	w.Left, w.Top, w.Width, w.Height = left, top, width, height
	m.markDirty(w.ID)
	return nil
}

// Arrange changes the split policy of the pair window above w.
func (m *Model) Arrange(w *Window, policy SplitPolicy) error {
	if w == nil || w.closed {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	pair := w.parent
	if pair == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "window has no split to arrange")
	}
	pair.policy = policy
	m.relayout()
	return nil
}

// relayout recomputes geometry for the whole tree and marks every
// resized window dirty for the next batch.
func (m *Model) relayout() {
	if m.root == nil {
		return
	}
	before := make(map[uint32][4]int, len(m.windows))
	for id, w := range m.windows {
		before[id] = [4]int{w.Left, w.Top, w.Width, w.Height}
	}
	m.root.layout(0, 0, m.cols, m.rows)
	for id, w := range m.windows {
		if w.Type == WinPair {
			continue
		}
		if before[id] != [4]int{w.Left, w.Top, w.Width, w.Height} {
			m.markDirty(id)
		}
	}
}

func (m *Model) markDirty(id uint32) {
	for _, d := range m.dirty {
		if d == id {
			return
		}
	}
	m.dirty = append(m.dirty, id)
}

func (m *Model) touch(id uint32) {
	for _, t := range m.touched {
		if t == id {
			return
		}
	}
	m.touched = append(m.touched, id)
}

// OpenMemoryStream opens a memory stream over a buffer of the given
// capacity.
func (m *Model) OpenMemoryStream(size int, mode FileMode, rock uint32) *Stream {
	s := m.newStream(StreamMemory, mode, rock)
	if size > 0 && mode == ModeRead {
		s.buf = make([]byte, size)
	}
	return s
}

// OpenFileStream opens a stream over the contents of an abstract file
// path. The caller supplies the current contents; writes accumulate in
// the stream buffer.
func (m *Model) OpenFileStream(path string, contents []byte, mode FileMode, rock uint32) *Stream {
	s := m.newStream(StreamFile, mode, rock)
	s.Path = path
	s.buf = append([]byte(nil), contents...)
	if mode == ModeAppend {
		s.pos = len(s.buf)
	}
	return s
}

// CloseStream closes s. If s is the echo target of any window, echoing
// is detached; windows themselves stay open.
func (m *Model) CloseStream(s *Stream) (StreamResult, error) {
	if s == nil || s.closed || m.streams[s.ID] != s {
		return StreamResult{}, errors.InvalidInput(errors.PhaseRuntime, "stream is not open")
	}
	for _, w := range m.windows {
		if w.echo == s {
			w.echo = nil
		}
	}
	if m.current == s {
		m.current = nil
	}
	s.closed = true
	delete(m.streams, s.ID)
	return s.Result(), nil
}

// SetCurrent selects the current output stream.
func (m *Model) SetCurrent(s *Stream) { m.current = s }

// Current returns the current output stream, or nil.
func (m *Model) Current() *Stream { return m.current }

// SetWindow makes w's stream current. nil clears the current stream.
func (m *Model) SetWindow(w *Window) {
	if w == nil {
		m.current = nil
		return
	}
	m.current = w.str
}

// SetEcho mirrors w's output into s. nil detaches.
func (m *Model) SetEcho(w *Window, s *Stream) {
	if w != nil {
		w.echo = s
	}
}

// PutText writes text to the current stream.
func (m *Model) PutText(text string) {
	m.PutTextTo(m.current, text)
}

// PutTextTo writes text to s. Window streams append a styled run to
// the window's pending content and mirror into the echo stream.
func (m *Model) PutTextTo(s *Stream, text string) {
	if s == nil || s.closed || text == "" {
		return
	}
	if s.Kind == StreamWindow {
		s.writeCount += uint32(len(text))
		w := s.win
		if w == nil || w.closed {
			return
		}
		w.append(Span{Style: s.style, Text: text, Hyperlink: s.hyperlink})
		m.touch(w.ID)
		if w.echo != nil && !w.echo.closed {
			w.echo.write([]byte(text))
		}
		return
	}
	s.write([]byte(text))
}

// SetStyle sets the style for subsequent writes on the current stream.
func (m *Model) SetStyle(name string) {
	m.SetStyleTo(m.current, name)
}

// SetStyleTo sets the style on s.
func (m *Model) SetStyleTo(s *Stream, name string) {
	if s == nil {
		return
	}
	if name == "" {
		name = "normal"
	}
	s.style = name
}

// SetHyperlink tags subsequent writes on the current stream with a
// hyperlink value; zero ends the link.
func (m *Model) SetHyperlink(val uint32) {
	if m.current != nil {
		m.current.hyperlink = val
	}
}

// PutImage appends an image special span to w.
func (m *Model) PutImage(w *Window, ref ImageRef) error {
	if w == nil || w.closed {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	w.append(Span{Image: &ref})
	m.touch(w.ID)
	return nil
}

// FlowBreak appends a flow-break special span to w.
func (m *Model) FlowBreak(w *Window) error {
	if w == nil || w.closed {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	w.append(Span{FlowBreak: true})
	m.touch(w.ID)
	return nil
}

// Clear discards w's pending content and instructs the consumer to
// drop what it has already rendered for w.
func (m *Model) Clear(w *Window) error {
	if w == nil || w.closed {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	w.pending = nil
	w.clear = true
	m.touch(w.ID)
	return nil
}

// MoveCursor positions the output cursor of a grid window.
func (m *Model) MoveCursor(w *Window, x, y int) error {
	if w == nil || w.closed || w.Type != WinTextGrid {
		return errors.InvalidInput(errors.PhaseRuntime, "cursor moves require an open grid window")
	}
	w.curX, w.curY = x, y
	return nil
}

// RequestLine arms a line input request on w. Exactly one request may
// be outstanding across the whole run; a second registration is
// rejected, never silently replacing the first.
func (m *Model) RequestLine(w *Window, maxLength int) error {
	return m.request(w, InputLine, maxLength)
}

// RequestChar arms a character input request on w.
func (m *Model) RequestChar(w *Window) error {
	return m.request(w, InputChar, 0)
}

func (m *Model) request(w *Window, t InputType, maxLength int) error {
	if w == nil || w.closed || m.windows[w.ID] != w {
		return errors.InvalidInput(errors.PhaseRuntime, "window is not open")
	}
	if m.req != nil {
		return errors.RequestPending(m.req.WindowID)
	}
	m.req = &InputRequest{WindowID: w.ID, Type: t, MaxLength: maxLength}
	return nil
}

// CancelRequest cancels the outstanding request if it targets w.
func (m *Model) CancelRequest(w *Window) {
	if w != nil && m.req != nil && m.req.WindowID == w.ID {
		m.req = nil
		m.state = StateIdle
	}
}

// Select is the single yield point: it bumps the generation, drains
// all pending changes into a Batch, and, when a request is armed,
// moves the run to awaiting-input.
func (m *Model) Select() Batch {
	m.gen++

	batch := Batch{Gen: m.gen}

	for _, id := range m.dirty {
		w := m.windows[id]
		if w == nil || w.Type == WinPair {
			continue
		}
		batch.Windows = append(batch.Windows, WindowState{
			ID: w.ID, Type: w.Type, Rock: w.Rock,
			Left: w.Left, Top: w.Top, Width: w.Width, Height: w.Height,
		})
	}
	m.dirty = nil

	for _, id := range m.touched {
		w := m.windows[id]
		if w == nil {
			continue // closed since the content was written
		}
		batch.Content = append(batch.Content, WindowContent{
			ID:    w.ID,
			Clear: w.clear,
			Spans: w.pending,
		})
		w.pending = nil
		w.clear = false
	}
	m.touched = nil

	if m.req != nil {
		m.req.Gen = m.gen
		r := *m.req
		batch.Input = &r
		m.state = StateAwaitingInput
	}

	return batch
}

// FeedLine satisfies the outstanding line request. A generation that
// does not match the batch that issued the request leaves the model
// untouched.
func (m *Model) FeedLine(gen int, windowID uint32, text string) error {
	if err := m.checkFeed(gen, windowID, InputLine); err != nil {
		return err
	}
	// The request buffer length counts characters, so truncation must
	// land on a rune boundary.
	if m.req.MaxLength > 0 {
		if rs := []rune(text); len(rs) > m.req.MaxLength {
			text = string(rs[:m.req.MaxLength])
		}
	}

	// Echo the accepted line into the window the way a terminal would.
	if w := m.windows[windowID]; w != nil && w.Type == WinTextBuffer {
		w.append(Span{Style: "input", Text: text + "\n"})
		m.touch(w.ID)
	}

	m.req = nil
	m.state = StateIdle
	return nil
}

// FeedChar satisfies the outstanding char request.
func (m *Model) FeedChar(gen int, windowID uint32, r rune) error {
	if err := m.checkFeed(gen, windowID, InputChar); err != nil {
		return err
	}
	_ = r
	m.req = nil
	m.state = StateIdle
	return nil
}

func (m *Model) checkFeed(gen int, windowID uint32, t InputType) error {
	if m.req == nil || m.state != StateAwaitingInput {
		return errors.NotFound(errors.PhaseRuntime, "no outstanding input request")
	}
	if gen != m.gen {
		m.log.Debug("dropping stale input event",
			zap.Int("eventGen", gen), zap.Int("gen", m.gen))
		return errors.GenerationMismatch(gen, m.gen)
	}
	if m.req.WindowID != windowID || m.req.Type != t {
		return errors.InvalidInput(errors.PhaseRuntime, "input does not match the outstanding request")
	}
	return nil
}
