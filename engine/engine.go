package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/storyport/glkbridge/errors"
	"github.com/storyport/glkbridge/wasm"
)

// asyncifyExports are the functions wasm-opt --asyncify adds.
var asyncifyExports = []string{
	"asyncify_start_unwind",
	"asyncify_stop_unwind",
	"asyncify_start_rewind",
	"asyncify_stop_rewind",
}

// IsAsyncified checks whether a WASM binary carries the asyncify
// exports the suspension protocol requires.
func IsAsyncified(wasmBytes []byte) bool {
	fns, err := wasm.ExportedFunctions(wasmBytes)
	if err != nil {
		return false
	}
	for _, exp := range asyncifyExports {
		if !fns[exp] {
			return false
		}
	}
	return true
}

// Config holds engine creation options.
type Config struct {
	// MemoryLimitPages caps instance memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// Engine owns one wazero runtime. One engine serves one interpreter
// run; nothing is shared between runs.
type Engine struct {
	runtime wazero.Runtime
}

// New creates a wazero-backed engine.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	// Close-on-done lets a canceled run context interrupt a guest that
	// is busy between suspensions.
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

// Runtime exposes the underlying wazero runtime for host module
// registration.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Instantiate compiles and instantiates an interpreter module. The
// module's start function is not run; the caller drives the entry
// export through a Scheduler.
func (e *Engine) Instantiate(ctx context.Context, wasmBytes []byte, name string, args []string) (api.Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile module")
	}

	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions() // defer _start to the scheduler
	if len(args) > 0 {
		cfg = cfg.WithArgs(args...)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate module")
	}
	return mod, nil
}

// Close releases the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
