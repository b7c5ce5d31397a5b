package session

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/storyport/glkbridge/blorb"
	"github.com/storyport/glkbridge/bridge"
	"github.com/storyport/glkbridge/detect"
	"github.com/storyport/glkbridge/engine"
	"github.com/storyport/glkbridge/errors"
	"github.com/storyport/glkbridge/glk"
	"github.com/storyport/glkbridge/protocol"
	"github.com/storyport/glkbridge/storage"
)

// errStopped ends the run loop after Stop. It matches any
// session/terminated error.
var errStopped = errors.New(errors.PhaseSession, errors.KindTerminated).
	Detail("run stopped").Build()

// Config describes one run.
type Config struct {
	// StoryName is the story's file name, used for format detection
	// and storage identity.
	StoryName string

	// Story is the raw story image, possibly a resource container.
	Story []byte

	// Interpreter is the asyncified interpreter WASM binary.
	Interpreter []byte

	// Provider backs save files and transcripts. nil runs fully
	// ephemeral.
	Provider storage.Provider

	// Metrics is the client viewport. Zero values default to 80x24.
	Metrics protocol.Metrics

	Logger *zap.Logger
}

// Session owns one interpreter run end to end.
type Session struct {
	log      *zap.Logger
	provider storage.Provider

	model  *glk.Model
	codec  *protocol.Codec
	bridge *bridge.Bridge
	feed   func(line []byte)
	eng    *engine.Engine
	sched  *engine.Scheduler
	asy    *engine.Asyncify
	entry  api.Function

	container *blorb.Blorb
	format    detect.Result
	storyName string

	// Window id mirror between the interpreter's wire numbering and
	// the runtime model. Touched only on the run goroutine.
	byWire map[uint32]*glk.Window
	toWire map[uint32]uint32
	exited bool

	updates chan protocol.Update
	events  chan protocol.Event

	mu       sync.Mutex
	awaiting bool
	lastGen  int
	reqWin   uint32
	reqType  glk.InputType

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}

	// runCtx covers the whole run; Stop cancels it so a guest busy
	// between suspensions is interrupted too.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New validates the configuration and instantiates the interpreter.
// Setup failures here are fatal; nothing has started yet.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if len(cfg.Story) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSession, "no story provided")
	}
	if len(cfg.Interpreter) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSession, "no interpreter binary provided")
	}
	if !engine.IsAsyncified(cfg.Interpreter) {
		return nil, errors.Unsupported(errors.PhaseLoad, "interpreter binary without asyncify instrumentation")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		log:       log,
		provider:  cfg.Provider,
		storyName: cfg.StoryName,
		byWire:    make(map[uint32]*glk.Window),
		toWire:    make(map[uint32]uint32),
		updates:   make(chan protocol.Update, 64),
		events:    make(chan protocol.Event, 16),
		stopped:   make(chan struct{}),
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	if s.provider == nil {
		s.provider = storage.NewMem()
	}

	// The mounted image is the embedded executable when the story is
	// a container; the container stays around for resource lookups.
	s.format = detect.Detect(cfg.StoryName, cfg.Story)
	exec := cfg.Story
	if blorb.IsBlorb(cfg.Story) {
		c, err := blorb.New(cfg.Story)
		if err != nil {
			return nil, err
		}
		res := c.Executable()
		if res == nil {
			return nil, errors.NotFound(errors.PhaseLoad, "executable resource in container")
		}
		s.container = c
		exec = res.Data
	}

	metrics := cfg.Metrics
	if metrics.Width <= 0 {
		metrics.Width = 80
	}
	if metrics.Height <= 0 {
		metrics.Height = 24
	}

	s.model = glk.NewModel(log)
	s.model.SetMetrics(metrics.Width, metrics.Height)
	s.codec = protocol.NewCodec(metrics, s.model.Support(), log)

	initLine, err := protocol.EncodeEvent(protocol.Event{
		Type:    protocol.EventInit,
		Gen:     0,
		Metrics: &metrics,
		Support: s.model.Support(),
	})
	if err != nil {
		return nil, err
	}

	s.bridge = bridge.New(bridge.Config{
		Provider:  s.provider,
		Story:     exec,
		InitEvent: initLine,
		WaitInput: s.waitInput,
		Sink:      s.handleLine,
		Args:      []string{s.format.Interpreter, bridge.StoryPath},
		Logger:    log,
	})
	s.feed = s.bridge.Feed
	if err := s.bridge.Initialize(ctx); err != nil {
		return nil, err
	}

	eng, err := engine.New(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.eng = eng
	if _, err := s.bridge.Register(ctx, eng.Runtime()); err != nil {
		eng.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "register host module")
	}

	mod, err := eng.Instantiate(ctx, cfg.Interpreter, s.format.Interpreter,
		[]string{s.format.Interpreter, bridge.StoryPath})
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}
	asy, err := engine.NewAsyncify(mod, engine.AsyncifyConfig{})
	if err != nil {
		eng.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "bind asyncify exports")
	}
	s.asy = asy
	s.sched = engine.NewScheduler(asy)

	entry := mod.ExportedFunction("_start")
	if entry == nil {
		eng.Close(ctx)
		return nil, errors.NotFound(errors.PhaseLoad, "_start export")
	}
	s.entry = entry

	log.Info("session ready",
		zap.String("story", cfg.StoryName),
		zap.String("format", string(s.format.Format)),
		zap.String("interpreter", s.format.Interpreter),
		zap.Bool("container", s.container != nil))
	return s, nil
}

// Container returns the parsed resource container, or nil for bare
// story images.
func (s *Session) Container() *blorb.Blorb {
	return s.container
}

// Updates starts the run on first call and returns the forward-only
// update sequence. The channel closes when the run ends; the sequence
// cannot be restarted.
func (s *Session) Updates() <-chan protocol.Update {
	s.startOnce.Do(func() { go s.run() })
	return s.updates
}

// SendLine satisfies the outstanding line input request. Calls with no
// outstanding request are dropped.
func (s *Session) SendLine(value string) {
	s.mu.Lock()
	if !s.awaiting || s.reqType != glk.InputLine {
		s.mu.Unlock()
		return
	}
	e := protocol.Event{Type: protocol.EventLine, Gen: s.lastGen, Window: s.reqWin, Value: value}
	s.mu.Unlock()
	s.push(e)
}

// SendChar satisfies the outstanding character input request. value is
// a single character or a key name such as "return".
func (s *Session) SendChar(value string) {
	s.mu.Lock()
	if !s.awaiting || s.reqType != glk.InputChar {
		s.mu.Unlock()
		return
	}
	e := protocol.Event{Type: protocol.EventChar, Gen: s.lastGen, Window: s.reqWin, Value: value}
	s.mu.Unlock()
	s.push(e)
}

// SendEvent offers a raw event such as arrange or hyperlink. Stale
// generations are dropped downstream by the codec.
func (s *Session) SendEvent(e protocol.Event) {
	s.push(e)
}

func (s *Session) push(e protocol.Event) {
	select {
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("input event dropped, queue full", zap.String("type", string(e.Type)))
	}
}

// Stop terminates the run. Idempotent and safe while a read
// suspension is outstanding; the sequence completes instead of
// waiting for the interpreter.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.cancelRun != nil {
			s.cancelRun()
		}
	})
}

func (s *Session) run() {
	defer close(s.updates)
	defer s.cleanup()

	select {
	case <-s.stopped:
		return
	default:
	}

	ctx := engine.WithScheduler(s.runCtx, s.sched)
	ctx = engine.WithAsyncify(ctx, s.asy)

	if err := s.sched.Execute(ctx, s.entry); err != nil {
		s.emit(s.codec.Error(err.Error()))
		return
	}

	var yr *engine.YieldResult
	for {
		sr, err := s.sched.Step(ctx, yr)
		if err != nil {
			s.finish(err)
			return
		}
		if sr.Status == engine.StepDone {
			if !s.exited {
				s.emit(s.codec.Exit(s.model.Generation(), 0))
			}
			return
		}
		val, opErr := sr.PendingOp.Execute(ctx)
		yr = &engine.YieldResult{Value: val, Error: opErr}
	}
}

// finish translates the run-ending error into the last update.
func (s *Session) finish(err error) {
	select {
	case <-s.stopped:
		// Stop completes the sequence quietly, whether the run was
		// suspended or interrupted mid-turn by the canceled context.
		return
	default:
	}
	var exitErr *sys.ExitError
	switch {
	case stderrors.As(err, &exitErr):
		if !s.exited {
			s.emit(s.codec.Exit(s.model.Generation(), int(exitErr.ExitCode())))
		}
	case stderrors.Is(err, errStopped):
		// Stop completes the sequence quietly.
	default:
		s.log.Error("interpreter fault", zap.Error(err))
		s.emit(s.codec.Error(err.Error()))
	}
}

func (s *Session) cleanup() {
	if s.eng != nil {
		if err := s.eng.Close(context.Background()); err != nil {
			s.log.Warn("engine close failed", zap.Error(err))
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.log.Warn("storage close failed", zap.Error(err))
		}
	}
	if s.container != nil {
		s.container.Dispose()
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

func (s *Session) emit(u protocol.Update) {
	select {
	case s.updates <- u:
	case <-s.stopped:
	}
}

// waitInput blocks the resolved read suspension until the client
// supplies an event that satisfies the outstanding request. Stale or
// malformed events are dropped and the wait continues.
func (s *Session) waitInput(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-s.stopped:
			return nil, errStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		case e := <-s.events:
			line, err := protocol.EncodeEvent(e)
			if err != nil {
				continue
			}
			ev, err := s.codec.ParseEvent(line)
			if err != nil {
				s.log.Warn("rejecting input event", zap.Error(err))
				continue
			}
			if ev == nil { // stale generation
				continue
			}
			if !s.accept(ev) {
				continue
			}
			out := *ev
			out.Window = s.wireID(ev.Window)
			return protocol.EncodeEvent(out)
		}
	}
}

// accept applies an event to the runtime model. Input events must
// satisfy the single outstanding request; view events pass through.
func (s *Session) accept(ev *protocol.Event) bool {
	switch ev.Type {
	case protocol.EventLine:
		if err := s.model.FeedLine(ev.Gen, ev.Window, ev.Value); err != nil {
			s.log.Debug("line input rejected", zap.Error(err))
			return false
		}
	case protocol.EventChar:
		if err := s.model.FeedChar(ev.Gen, ev.Window, charRune(ev.Value)); err != nil {
			s.log.Debug("char input rejected", zap.Error(err))
			return false
		}
	case protocol.EventArrange:
		if ev.Metrics != nil {
			s.model.SetMetrics(ev.Metrics.Width, ev.Metrics.Height)
		}
	}
	if ev.Type == protocol.EventLine || ev.Type == protocol.EventChar {
		s.mu.Lock()
		s.awaiting = false
		s.mu.Unlock()
	}
	return true
}

// charRune resolves a char event value to the keycode fed into the
// model. Named keys use the Glk special keycodes.
func charRune(value string) rune {
	if code, ok := glk.KeycodeByName(value); ok {
		return rune(code)
	}
	for _, r := range value {
		return r
	}
	return 0
}

// wireID maps a model window id back to the interpreter's numbering.
func (s *Session) wireID(modelID uint32) uint32 {
	if wire, ok := s.toWire[modelID]; ok {
		return wire
	}
	return modelID
}

// handleLine consumes one interpreter stdout line. Malformed lines
// are logged and skipped; the run continues.
func (s *Session) handleLine(line []byte) {
	u, err := protocol.ParseUpdate(line)
	if err != nil {
		s.log.Warn("skipping malformed interpreter line",
			zap.Error(err), zap.ByteString("line", line))
		return
	}

	switch u.Type {
	case protocol.UpdateInit:
		// Interpreter announced its capabilities; surface them on the
		// client init update.
		s.emit(s.codec.Init(u.Support))
	case protocol.UpdateUpdate:
		s.apply(u)
		s.flush()
	case protocol.UpdateInputRequest:
		// Standalone request line; the target window rides the windows
		// array as an {id, type} pair.
		if len(u.Windows) > 0 {
			wu := u.Windows[0]
			s.armInput(protocol.InputUpdate{ID: wu.ID, Type: wu.Type})
		}
		s.flush()
	case protocol.UpdateError:
		s.emit(s.codec.Error(u.Message))
	case protocol.UpdateExit:
		s.exited = true
		s.emit(s.codec.Exit(s.model.Generation(), u.Status))
	case protocol.UpdateFilerefPrompt:
		s.answerPrompt(u)
	}
}

// apply replays one interpreter update into the runtime model.
func (s *Session) apply(u *protocol.Update) {
	if len(u.Windows) > 0 {
		s.syncWindows(u.Windows)
	}
	for _, cu := range u.Content {
		s.applyContent(cu)
	}
	if len(u.Input) > 0 {
		s.armInput(u.Input[0])
	}
}

// flush drains the model into a batch and emits the resulting client
// updates in generation order.
func (s *Session) flush() {
	batch := s.model.Select()

	s.mu.Lock()
	if batch.Input != nil {
		s.awaiting = true
		s.lastGen = batch.Input.Gen
		s.reqWin = batch.Input.WindowID
		s.reqType = batch.Input.Type
	}
	s.mu.Unlock()

	for _, out := range s.codec.Flush(batch) {
		s.emit(out)
	}
}

// syncWindows mirrors the interpreter's window list. The wire list is
// authoritative: windows absent from it are closed.
func (s *Session) syncWindows(wire []protocol.WindowUpdate) {
	seen := make(map[uint32]bool, len(wire))
	for _, wu := range wire {
		seen[wu.ID] = true
		w := s.byWire[wu.ID]
		if w == nil {
			w = s.mirrorWindow(wu)
			if w == nil {
				continue
			}
		}
		// Geometry comes from the interpreter's own layout.
		if err := s.model.PlaceWindow(w, wu.Left, wu.Top, wu.Width, wu.Height); err != nil {
			s.log.Debug("place window failed", zap.Uint32("window", wu.ID), zap.Error(err))
		}
	}
	for wireID, w := range s.byWire {
		if seen[wireID] {
			continue
		}
		if _, err := s.model.CloseWindow(w); err != nil {
			s.log.Debug("close window failed", zap.Uint32("window", wireID), zap.Error(err))
		}
		delete(s.toWire, w.ID)
		delete(s.byWire, wireID)
	}
}

// mirrorWindow opens a model window for a wire window seen for the
// first time. Grid windows split off a fixed band; everything else
// splits proportionally. Exact geometry is stamped afterwards.
func (s *Session) mirrorWindow(wu protocol.WindowUpdate) *glk.Window {
	t := windowTypeFromName(wu.Type)

	var parent *glk.Window
	var policy glk.SplitPolicy
	if root := s.model.Root(); root != nil {
		parent = s.anyLeaf()
		policy = glk.SplitPolicy{Dir: glk.SplitBelow, Size: 50}
		if t == glk.WinTextGrid {
			size := uint32(wu.Height)
			if size == 0 {
				size = 1
			}
			policy = glk.SplitPolicy{Dir: glk.SplitAbove, Fixed: true, Size: size}
		}
	}

	w, err := s.model.OpenWindow(parent, policy, t, wu.Rock)
	if err != nil {
		s.log.Warn("mirror window failed", zap.Uint32("window", wu.ID), zap.Error(err))
		return nil
	}
	s.byWire[wu.ID] = w
	s.toWire[w.ID] = wu.ID
	return w
}

// anyLeaf picks an open leaf window to split, preferring the text
// buffer that carries the main story flow.
func (s *Session) anyLeaf() *glk.Window {
	var fallback *glk.Window
	for _, w := range s.byWire {
		if w.Type == glk.WinTextBuffer {
			return w
		}
		fallback = w
	}
	return fallback
}

func (s *Session) applyContent(cu protocol.ContentUpdate) {
	if cu.Op == "create" {
		if s.byWire[cu.ID] == nil {
			s.mirrorWindow(protocol.WindowUpdate{
				ID:   cu.ID,
				Type: windowTypeFromCode(cu.WinType),
			})
		}
		if len(cu.Text) == 0 && !cu.Clear {
			return
		}
	}
	w := s.byWire[cu.ID]
	if w == nil {
		s.log.Debug("content for unknown window", zap.Uint32("window", cu.ID))
		return
	}
	if cu.Clear {
		if err := s.model.Clear(w); err != nil {
			s.log.Debug("clear failed", zap.Error(err))
		}
	}
	st := w.Stream()
	for _, sp := range cu.Text {
		switch sp.Special {
		case "image":
			s.model.PutImage(w, glk.ImageRef{
				Number:    sp.Image,
				Alignment: sp.Alignment,
				Width:     sp.Width,
				Height:    sp.Height,
			})
		case "flowbreak":
			s.model.FlowBreak(w)
		default:
			s.model.SetStyleTo(st, sp.Style)
			if sp.Hyperlink != 0 {
				s.model.SetCurrent(st)
				s.model.SetHyperlink(sp.Hyperlink)
			}
			s.model.PutTextTo(st, sp.Text)
			if sp.Hyperlink != 0 {
				s.model.SetHyperlink(0)
			}
		}
	}
}

func (s *Session) armInput(iu protocol.InputUpdate) {
	w := s.byWire[iu.ID]
	if w == nil {
		s.log.Debug("input request for unknown window", zap.Uint32("window", iu.ID))
		return
	}
	var err error
	if iu.Type == "char" {
		err = s.model.RequestChar(w)
	} else {
		err = s.model.RequestLine(w, iu.MaxLength)
	}
	if err != nil {
		// A second request while one is outstanding is rejected, not
		// replaced.
		s.log.Warn("input request rejected", zap.Uint32("window", iu.ID), zap.Error(err))
	}
}

// answerPrompt resolves an interpreter file name prompt through the
// storage provider. The reply is the bare name on one stdin line; it
// never reaches the client.
func (s *Session) answerPrompt(u *protocol.Update) {
	meta := storage.Metadata{
		Story: s.storyName,
		Usage: usageName(u.Usage),
	}
	name := s.provider.HandlePrompt(meta)
	s.log.Debug("answering fileref prompt",
		zap.Uint32("usage", u.Usage), zap.String("name", name))
	s.feed([]byte(name))
}

// usageName maps a Glk fileusage to the provider's vocabulary.
func usageName(usage uint32) string {
	switch usage & 0x0f {
	case 1:
		return "save"
	case 2:
		return "transcript"
	case 3:
		return "command"
	default:
		return "data"
	}
}

// windowTypeFromCode maps the Glk numeric window type constants used
// by op:"create" content entries onto the wire vocabulary.
func windowTypeFromCode(code uint32) string {
	switch code {
	case 4:
		return "grid"
	case 5:
		return "graphics"
	default:
		return "buffer"
	}
}

func windowTypeFromName(name string) glk.WindowType {
	switch name {
	case "grid":
		return glk.WinTextGrid
	case "graphics":
		return glk.WinGraphics
	default:
		return glk.WinTextBuffer
	}
}
