package bridge

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/storyport/glkbridge/engine"
	"github.com/storyport/glkbridge/storage"
)

// StoryPath is the fixed read-only path the story image is served
// from. It never touches the storage provider.
const StoryPath = "storyfile"

// Config wires a bridge to its run.
type Config struct {
	// Provider backs the writable root. nil means everything is
	// ephemeral.
	Provider storage.Provider

	// Story is the raw story image mounted read-only at "storyfile".
	Story []byte

	// InitEvent is the serialized handshake line the first stdin read
	// returns without any host round-trip.
	InitEvent []byte

	// WaitInput blocks until the host has the next serialized event
	// line for the interpreter. Runs on the host event loop while the
	// interpreter sits suspended.
	WaitInput func(ctx context.Context) ([]byte, error)

	// Sink receives each newline-terminated wire line the interpreter
	// writes to stdout (without the newline).
	Sink func(line []byte)

	// Args are the guest's argv.
	Args []string

	Logger *zap.Logger
}

// Bridge owns the WASI surface of one interpreter run: the stdin/
// stdout plumbing, the file tree, and the two suspension points.
type Bridge struct {
	log      *zap.Logger
	provider storage.Provider
	wait     func(ctx context.Context) ([]byte, error)
	sink     func(line []byte)
	args     []string

	mu        sync.Mutex
	stdin     bytes.Buffer
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	handshook bool
	exitCode  uint32
	exited    bool

	initEvent []byte
	story     []byte
	tree      *fileTree
}

// New creates a bridge. Initialize must run before the interpreter
// starts so the existing namespace is visible to it.
func New(cfg Config) *Bridge {
	log := cfg.Logger
	if log == nil {
		log = engine.Logger()
	}
	b := &Bridge{
		log:       log,
		provider:  cfg.Provider,
		wait:      cfg.WaitInput,
		sink:      cfg.Sink,
		args:      cfg.Args,
		story:     cfg.Story,
		initEvent: append([]byte(nil), cfg.InitEvent...),
		tree:      newFileTree(),
	}
	if len(cfg.Story) > 0 {
		b.tree.graft(&storage.File{Path: StoryPath, Data: cfg.Story, Store: storage.StoreExternal})
	}
	return b
}

// Initialize loads the existing durable namespace into the tree.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.provider == nil {
		return nil
	}
	files, err := b.provider.Initialize(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range files {
		b.tree.graft(f)
	}
	return nil
}

// Feed appends a serialized event line to the interpreter's stdin
// buffer. Lines are consumed in the order offered.
func (b *Bridge) Feed(line []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stdin.Write(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		b.stdin.WriteByte('\n')
	}
}

// ExitStatus returns the interpreter's exit code and whether it
// called proc_exit.
func (b *Bridge) ExitStatus() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitCode, b.exited
}

// Tree returns the known writable paths, for diagnostics.
func (b *Bridge) Tree() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree.paths()
}

// consumeStdin copies buffered stdin bytes into sizes-shaped chunks,
// serving partial reads in order. Returns total bytes copied.
func (b *Bridge) consumeStdin(bufs [][]byte) int {
	total := 0
	for _, buf := range bufs {
		if b.stdin.Len() == 0 {
			break
		}
		n, _ := b.stdin.Read(buf)
		total += n
	}
	return total
}

// handshake arms the init event on the first stdin read. Reports
// whether this read is the handshake.
func (b *Bridge) handshake() bool {
	if b.handshook {
		return false
	}
	b.handshook = true
	b.stdin.Write(b.initEvent)
	if len(b.initEvent) == 0 || b.initEvent[len(b.initEvent)-1] != '\n' {
		b.stdin.WriteByte('\n')
	}
	return true
}

// collectStdout accumulates interpreter stdout and returns the
// complete lines. Caller holds the mutex.
func (b *Bridge) collectStdout(data []byte) [][]byte {
	b.stdout.Write(data)
	var lines [][]byte
	for {
		raw := b.stdout.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return lines
		}
		line := make([]byte, i)
		copy(line, raw[:i])
		b.stdout.Next(i + 1)
		lines = append(lines, line)
	}
}

// dispatch hands complete stdout lines to the sink. Must run with the
// mutex released: the sink may answer a prompt by calling Feed, which
// locks it again.
func (b *Bridge) dispatch(lines [][]byte) {
	if b.sink == nil {
		return
	}
	for _, line := range lines {
		b.sink(line)
	}
}

// emitStdout accumulates interpreter stdout and hands each complete
// line to the sink.
func (b *Bridge) emitStdout(data []byte) {
	b.mu.Lock()
	lines := b.collectStdout(data)
	b.mu.Unlock()
	b.dispatch(lines)
}

// emitStderr forwards interpreter diagnostics to the logger, one line
// at a time.
func (b *Bridge) emitStderr(data []byte) {
	b.stderr.Write(data)
	for {
		raw := b.stderr.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return
		}
		line := string(raw[:i])
		b.stderr.Next(i + 1)
		if line != "" {
			b.log.Warn("interpreter stderr", zap.String("line", line))
		}
	}
}

// readOp is the read-input suspension: it blocks on the host until an
// event line arrives and deposits it into the stdin buffer.
type readOp struct {
	b *Bridge
}

func (op *readOp) Execute(ctx context.Context) (uint64, error) {
	line, err := op.b.wait(ctx)
	if err != nil {
		return 0, err
	}
	op.b.Feed(line)
	return 0, nil
}

// createOp is the create-file suspension: it materializes a durable
// file and grafts it into the tree. Provider failures are absorbed;
// the reopened path falls back to an ephemeral file.
type createOp struct {
	b    *Bridge
	path string
}

func (op *createOp) Execute(ctx context.Context) (uint64, error) {
	f, err := op.b.provider.CreateFile(ctx, op.path)
	if err != nil {
		op.b.log.Warn("durable create failed, degrading to ephemeral",
			zap.String("path", op.path), zap.Error(err))
		return 0, nil
	}
	op.b.mu.Lock()
	op.b.tree.graft(f)
	op.b.mu.Unlock()
	return 0, nil
}
