package bridge

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/storyport/glkbridge/engine"
	"github.com/storyport/glkbridge/storage"
)

// WASI preview1 errno values the host surface returns.
const (
	errnoSuccess uint32 = 0
	errnoBadf    uint32 = 8
	errnoExist   uint32 = 20
	errnoInval   uint32 = 28
	errnoIO      uint32 = 29
	errnoNoent   uint32 = 44
	errnoNosys   uint32 = 52
)

// WASI filetypes.
const (
	filetypeCharDevice uint8 = 2
	filetypeDirectory  uint8 = 3
	filetypeRegular    uint8 = 4
)

// path_open oflags.
const (
	oflagCreat     uint32 = 1 << 0
	oflagDirectory uint32 = 1 << 1
	oflagExcl      uint32 = 1 << 2
	oflagTrunc     uint32 = 1 << 3
)

// fdflags.
const fdflagAppend uint32 = 1 << 0

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// errnoFunc adapts a host function returning an errno to wazero's
// stack calling convention.
func errnoFunc(fn func(ctx context.Context, mod api.Module, stack []uint64) uint32) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		stack[0] = uint64(fn(ctx, mod, stack))
	}
}

func u32(v uint64) uint32 { return uint32(v) }

// Register instantiates the wasi_snapshot_preview1 host module backed
// by this bridge. Every interpreter import resolves here; there is no
// other WASI provider in the runtime.
func (b *Bridge) Register(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder("wasi_snapshot_preview1")

	type export struct {
		name    string
		fn      api.GoModuleFunc
		params  []api.ValueType
		results []api.ValueType
	}
	exports := []export{
		{"args_get", errnoFunc(b.argsGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"args_sizes_get", errnoFunc(b.argsSizesGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"environ_get", errnoFunc(b.environGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"environ_sizes_get", errnoFunc(b.environSizesGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"clock_time_get", errnoFunc(b.clockTimeGet), []api.ValueType{i32, i64, i32}, []api.ValueType{i32}},
		{"fd_close", errnoFunc(b.fdClose), []api.ValueType{i32}, []api.ValueType{i32}},
		{"fd_fdstat_get", errnoFunc(b.fdFdstatGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"fd_fdstat_set_flags", errnoFunc(b.fdFdstatSetFlags), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"fd_filestat_get", errnoFunc(b.fdFilestatGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"fd_prestat_get", errnoFunc(b.fdPrestatGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"fd_prestat_dir_name", errnoFunc(b.fdPrestatDirName), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}},
		{"fd_read", errnoFunc(b.fdRead), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}},
		{"fd_seek", errnoFunc(b.fdSeek), []api.ValueType{i32, i64, i32, i32}, []api.ValueType{i32}},
		{"fd_write", errnoFunc(b.fdWrite), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}},
		{"path_open", errnoFunc(b.pathOpen), []api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []api.ValueType{i32}},
		{"path_filestat_get", errnoFunc(b.pathFilestatGet), []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}},
		{"path_create_directory", errnoFunc(b.pathCreateDirectory), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}},
		{"path_unlink_file", errnoFunc(b.pathUnlinkFile), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}},
		{"random_get", errnoFunc(b.randomGet), []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"poll_oneoff", errnoFunc(b.pollOneoff), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}},
		{"sched_yield", errnoFunc(b.schedYield), nil, []api.ValueType{i32}},
	}
	for _, e := range exports {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(e.fn, e.params, e.results).
			Export(e.name)
	}

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.procExit), []api.ValueType{i32}, nil).
		Export("proc_exit")

	return builder.Instantiate(ctx)
}

// iovecs resolves a wasi ciovec/iovec array into live slices over
// guest memory.
func iovecs(mem api.Memory, ptr, count uint32) ([][]byte, bool) {
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		base, ok := mem.ReadUint32Le(ptr + i*8)
		if !ok {
			return nil, false
		}
		length, ok := mem.ReadUint32Le(ptr + i*8 + 4)
		if !ok {
			return nil, false
		}
		buf, ok := mem.Read(base, length)
		if !ok {
			return nil, false
		}
		out = append(out, buf)
	}
	return out, true
}

func readPath(mem api.Memory, ptr, length uint32) (string, bool) {
	raw, ok := mem.Read(ptr, length)
	if !ok {
		return "", false
	}
	return normalizePath(string(raw)), true
}

func (b *Bridge) argsGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	mem := mod.Memory()
	argv, argvBuf := u32(stack[0]), u32(stack[1])
	for _, arg := range b.args {
		if !mem.WriteUint32Le(argv, argvBuf) {
			return errnoInval
		}
		if !mem.Write(argvBuf, append([]byte(arg), 0)) {
			return errnoInval
		}
		argv += 4
		argvBuf += uint32(len(arg)) + 1
	}
	return errnoSuccess
}

func (b *Bridge) argsSizesGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	size := 0
	for _, arg := range b.args {
		size += len(arg) + 1
	}
	mem := mod.Memory()
	if !mem.WriteUint32Le(u32(stack[0]), uint32(len(b.args))) ||
		!mem.WriteUint32Le(u32(stack[1]), uint32(size)) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) environGet(context.Context, api.Module, []uint64) uint32 {
	return errnoSuccess
}

func (b *Bridge) environSizesGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	mem := mod.Memory()
	if !mem.WriteUint32Le(u32(stack[0]), 0) || !mem.WriteUint32Le(u32(stack[1]), 0) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) clockTimeGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	if !mod.Memory().WriteUint64Le(u32(stack[2]), uint64(time.Now().UnixNano())) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdClose(_ context.Context, _ api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	if fd >= fdStdin && fd <= fdRoot {
		return errnoSuccess
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tree.close(fd) {
		return errnoBadf
	}
	return errnoSuccess
}

func (b *Bridge) fdFdstatGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	ptr := u32(stack[1])
	mem := mod.Memory()

	var filetype uint8
	var flags uint16
	switch {
	case fd >= fdStdin && fd <= fdStderr:
		filetype = filetypeCharDevice
	case fd == fdRoot:
		filetype = filetypeDirectory
	default:
		b.mu.Lock()
		e := b.tree.entry(fd)
		b.mu.Unlock()
		if e == nil {
			return errnoBadf
		}
		if e.file == nil {
			filetype = filetypeDirectory
		} else {
			filetype = filetypeRegular
			if e.append {
				flags = uint16(fdflagAppend)
			}
		}
	}

	// fdstat: filetype u8, fdflags u16, rights_base u64, rights_inheriting u64
	if !mem.WriteByte(ptr, filetype) ||
		!mem.WriteUint16Le(ptr+2, flags) ||
		!mem.WriteUint64Le(ptr+8, ^uint64(0)) ||
		!mem.WriteUint64Le(ptr+16, ^uint64(0)) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdFdstatSetFlags(_ context.Context, _ api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	flags := u32(stack[1])
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.tree.entry(fd)
	if e == nil {
		return errnoBadf
	}
	e.append = flags&fdflagAppend != 0
	return errnoSuccess
}

// writeFilestat lays out a wasi filestat record.
func writeFilestat(mem api.Memory, ptr uint32, filetype uint8, size uint64) bool {
	now := uint64(time.Now().UnixNano())
	return mem.WriteUint64Le(ptr, 0) && // dev
		mem.WriteUint64Le(ptr+8, 0) && // ino
		mem.WriteByte(ptr+16, filetype) &&
		mem.WriteUint64Le(ptr+24, 1) && // nlink
		mem.WriteUint64Le(ptr+32, size) &&
		mem.WriteUint64Le(ptr+40, now) &&
		mem.WriteUint64Le(ptr+48, now) &&
		mem.WriteUint64Le(ptr+56, now)
}

func (b *Bridge) fdFilestatGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	ptr := u32(stack[1])
	mem := mod.Memory()

	switch {
	case fd >= fdStdin && fd <= fdStderr:
		if !writeFilestat(mem, ptr, filetypeCharDevice, 0) {
			return errnoInval
		}
		return errnoSuccess
	case fd == fdRoot:
		if !writeFilestat(mem, ptr, filetypeDirectory, 0) {
			return errnoInval
		}
		return errnoSuccess
	}

	b.mu.Lock()
	e := b.tree.entry(fd)
	b.mu.Unlock()
	if e == nil {
		return errnoBadf
	}
	if e.file == nil {
		if !writeFilestat(mem, ptr, filetypeDirectory, 0) {
			return errnoInval
		}
		return errnoSuccess
	}
	if !writeFilestat(mem, ptr, filetypeRegular, uint64(len(e.file.Data))) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdPrestatGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	ptr := u32(stack[1])
	if fd != fdRoot {
		return errnoBadf
	}
	mem := mod.Memory()
	// prestat: tag u8 (0 = dir), name_len u32
	if !mem.WriteByte(ptr, 0) || !mem.WriteUint32Le(ptr+4, 1) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdPrestatDirName(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	if fd != fdRoot {
		return errnoBadf
	}
	if !mod.Memory().Write(u32(stack[1]), []byte("/")) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdRead(ctx context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	iovs, iovsLen, nreadPtr := u32(stack[1]), u32(stack[2]), u32(stack[3])
	mem := mod.Memory()

	bufs, ok := iovecs(mem, iovs, iovsLen)
	if !ok {
		return errnoInval
	}

	if fd == fdStdin {
		return b.stdinRead(ctx, mem, bufs, nreadPtr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.tree.entry(fd)
	if e == nil || e.file == nil {
		return errnoBadf
	}
	total := 0
	for _, buf := range bufs {
		if e.pos >= int64(len(e.file.Data)) {
			break
		}
		n := copy(buf, e.file.Data[e.pos:])
		e.pos += int64(n)
		total += n
	}
	if !mem.WriteUint32Le(nreadPtr, uint32(total)) {
		return errnoInval
	}
	return errnoSuccess
}

// stdinRead is the read-input suspension point. The first read returns
// the synthesized handshake without suspending. Later reads drain the
// buffered event bytes, or unwind the interpreter until the host has
// the next event line.
func (b *Bridge) stdinRead(ctx context.Context, mem api.Memory, bufs [][]byte, nreadPtr uint32) uint32 {
	if asy := engine.AsyncifyFrom(ctx); asy != nil && asy.IsRewinding() {
		// Re-entered after the suspended read resolved. The event line
		// is already buffered.
		if _, err := engine.Resume(ctx); err != nil {
			b.log.Error("stdin resume failed", zap.Error(err))
			return errnoIO
		}
	}

	b.mu.Lock()
	b.handshake()
	if b.stdin.Len() == 0 {
		b.mu.Unlock()
		if err := engine.Suspend(ctx, &readOp{b: b}); err != nil {
			b.log.Error("stdin suspend failed", zap.Error(err))
			return errnoIO
		}
		// Unwinding. The guest discards this return value and re-enters
		// the read after the rewind.
		mem.WriteUint32Le(nreadPtr, 0)
		return errnoSuccess
	}
	total := b.consumeStdin(bufs)
	b.mu.Unlock()

	if !mem.WriteUint32Le(nreadPtr, uint32(total)) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdSeek(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	offset := int64(stack[1])
	whence := u32(stack[2])
	resultPtr := u32(stack[3])

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.tree.entry(fd)
	if e == nil || e.file == nil {
		return errnoBadf
	}
	var next int64
	switch whence {
	case 0:
		next = offset
	case 1:
		next = e.pos + offset
	case 2:
		next = int64(len(e.file.Data)) + offset
	default:
		return errnoInval
	}
	if next < 0 {
		return errnoInval
	}
	e.pos = next
	if !mod.Memory().WriteUint64Le(resultPtr, uint64(next)) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) fdWrite(_ context.Context, mod api.Module, stack []uint64) uint32 {
	fd := int32(u32(stack[0]))
	iovs, iovsLen, nwrittenPtr := u32(stack[1]), u32(stack[2]), u32(stack[3])
	mem := mod.Memory()

	bufs, ok := iovecs(mem, iovs, iovsLen)
	if !ok {
		return errnoInval
	}
	total := 0
	for _, buf := range bufs {
		total += len(buf)
	}

	b.mu.Lock()
	var lines [][]byte
	errno := errnoSuccess
	switch fd {
	case fdStdout:
		for _, buf := range bufs {
			lines = append(lines, b.collectStdout(buf)...)
		}
	case fdStderr:
		for _, buf := range bufs {
			b.emitStderr(buf)
		}
	default:
		errno = b.writeEntry(fd, bufs)
	}
	if errno == errnoSuccess && !mem.WriteUint32Le(nwrittenPtr, uint32(total)) {
		errno = errnoInval
	}
	b.mu.Unlock()

	b.dispatch(lines)
	return errno
}

// writeEntry appends to an open file descriptor. Caller holds the
// mutex.
func (b *Bridge) writeEntry(fd int32, bufs [][]byte) uint32 {
	e := b.tree.entry(fd)
	if e == nil || e.file == nil {
		return errnoBadf
	}
	if e.readOnly {
		return errnoInval
	}
	if e.append {
		e.pos = int64(len(e.file.Data))
	}
	for _, buf := range bufs {
		e.file.WriteAt(buf, int(e.pos))
		e.pos += int64(len(buf))
	}
	return errnoSuccess
}

// pathOpen is the create-file suspension point. Opens of existing
// files and ephemeral creates are synchronous; a create under a
// persistable path unwinds the interpreter so the storage provider
// can materialize the durable file first.
func (b *Bridge) pathOpen(ctx context.Context, mod api.Module, stack []uint64) uint32 {
	pathPtr, pathLen := u32(stack[2]), u32(stack[3])
	oflags := u32(stack[4])
	fdflags := u32(stack[7])
	fdPtr := u32(stack[8])
	mem := mod.Memory()

	name, ok := readPath(mem, pathPtr, pathLen)
	if !ok {
		return errnoInval
	}

	resumed := false
	if asy := engine.AsyncifyFrom(ctx); asy != nil && asy.IsRewinding() {
		if _, err := engine.Resume(ctx); err != nil {
			b.log.Error("path_open resume failed", zap.Error(err))
			return errnoIO
		}
		resumed = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if oflags&oflagDirectory != 0 {
		if !b.tree.isDir(name) {
			return errnoNoent
		}
		fd := b.tree.openDir(name)
		if !mem.WriteUint32Le(fdPtr, uint32(fd)) {
			return errnoInval
		}
		return errnoSuccess
	}

	create := oflags&oflagCreat != 0
	f := b.tree.lookup(name)
	switch {
	case f == nil && !create:
		return errnoNoent
	case f != nil && create && oflags&oflagExcl != 0 && !resumed:
		return errnoExist
	}

	if f == nil {
		if !resumed && b.provider != nil && b.provider.ShouldPersist(name) {
			b.mu.Unlock()
			err := engine.Suspend(ctx, &createOp{b: b, path: name})
			b.mu.Lock()
			if err != nil {
				b.log.Error("path_open suspend failed", zap.Error(err))
				return errnoIO
			}
			// Unwinding. Re-entered after the durable create resolves.
			mem.WriteUint32Le(fdPtr, 0)
			return errnoSuccess
		}
		// Ephemeral: no provider, an excluded name, or a durable
		// create that degraded.
		f = &storage.File{Path: name, Store: storage.StoreEphemeral}
		b.tree.graft(f)
	}

	readOnly := name == StoryPath
	if oflags&oflagTrunc != 0 && !readOnly {
		f.Write(nil)
	}
	fd := b.tree.open(f, readOnly, fdflags&fdflagAppend != 0)
	if !mem.WriteUint32Le(fdPtr, uint32(fd)) {
		return errnoInval
	}
	return errnoSuccess
}

func (b *Bridge) pathFilestatGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	pathPtr, pathLen := u32(stack[2]), u32(stack[3])
	bufPtr := u32(stack[4])
	mem := mod.Memory()

	name, ok := readPath(mem, pathPtr, pathLen)
	if !ok {
		return errnoInval
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if f := b.tree.lookup(name); f != nil {
		if !writeFilestat(mem, bufPtr, filetypeRegular, uint64(len(f.Data))) {
			return errnoInval
		}
		return errnoSuccess
	}
	if b.tree.isDir(name) {
		if !writeFilestat(mem, bufPtr, filetypeDirectory, 0) {
			return errnoInval
		}
		return errnoSuccess
	}
	return errnoNoent
}

func (b *Bridge) pathCreateDirectory(_ context.Context, mod api.Module, stack []uint64) uint32 {
	name, ok := readPath(mod.Memory(), u32(stack[1]), u32(stack[2]))
	if !ok {
		return errnoInval
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree.mkdir(name)
	return errnoSuccess
}

func (b *Bridge) pathUnlinkFile(_ context.Context, mod api.Module, stack []uint64) uint32 {
	name, ok := readPath(mod.Memory(), u32(stack[1]), u32(stack[2]))
	if !ok {
		return errnoInval
	}
	if name == StoryPath {
		return errnoInval
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tree.remove(name) {
		return errnoNoent
	}
	return errnoSuccess
}

func (b *Bridge) randomGet(_ context.Context, mod api.Module, stack []uint64) uint32 {
	buf, ok := mod.Memory().Read(u32(stack[0]), u32(stack[1]))
	if !ok {
		return errnoInval
	}
	if _, err := rand.Read(buf); err != nil {
		return errnoIO
	}
	return errnoSuccess
}

func (b *Bridge) pollOneoff(context.Context, api.Module, []uint64) uint32 {
	return errnoNosys
}

func (b *Bridge) schedYield(context.Context, api.Module, []uint64) uint32 {
	return errnoSuccess
}

func (b *Bridge) procExit(ctx context.Context, mod api.Module, stack []uint64) {
	code := u32(stack[0])
	b.mu.Lock()
	b.exitCode = code
	b.exited = true
	b.mu.Unlock()
	_ = mod.CloseWithExitCode(ctx, code)
	panic(sys.NewExitError(code))
}
