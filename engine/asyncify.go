package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Asyncify drives the Binaryen asyncify protocol (wasm-opt --asyncify).
//
// States: 0=Normal, 1=Unwinding (saving stack), 2=Rewinding (restoring
// stack).
//
// Memory layout at dataAddr:
//   - [0:4] stack pointer (grows upward from dataAddr+8)
//   - [4:8] stack end
//   - [8:stackSize] stack data
type Asyncify struct {
	exports struct {
		startUnwind api.Function
		stopUnwind  api.Function
		startRewind api.Function
		stopRewind  api.Function
	}
	memory    api.Memory
	state     int32
	dataAddr  uint32
	stackSize uint32
}

const (
	StateNormal    int32 = 0
	StateUnwinding int32 = 1
	StateRewinding int32 = 2
)

const (
	DefaultDataAddr  uint32 = 16
	DefaultStackSize uint32 = 65536
)

// AsyncifyConfig overrides the suspension stack placement.
type AsyncifyConfig struct {
	StackSize uint32
	DataAddr  uint32
}

// NewAsyncify binds the asyncify exports of an instantiated module and
// initializes the suspension stack in its linear memory.
func NewAsyncify(mod api.Module, cfg AsyncifyConfig) (*Asyncify, error) {
	a := &Asyncify{
		dataAddr:  DefaultDataAddr,
		stackSize: DefaultStackSize,
	}
	if cfg.DataAddr != 0 {
		a.dataAddr = cfg.DataAddr
	}
	if cfg.StackSize != 0 {
		a.stackSize = cfg.StackSize
	}

	a.memory = mod.Memory()
	if a.memory == nil {
		return nil, fmt.Errorf("asyncify: module has no memory")
	}

	a.exports.startUnwind = mod.ExportedFunction("asyncify_start_unwind")
	a.exports.stopUnwind = mod.ExportedFunction("asyncify_stop_unwind")
	a.exports.startRewind = mod.ExportedFunction("asyncify_start_rewind")
	a.exports.stopRewind = mod.ExportedFunction("asyncify_stop_rewind")
	if a.exports.startUnwind == nil {
		return nil, fmt.Errorf("asyncify: module missing asyncify exports (run wasm-opt --asyncify)")
	}

	stackPtr := a.dataAddr + 8
	stackEnd := stackPtr + a.stackSize
	if !a.memory.WriteUint32Le(a.dataAddr, stackPtr) {
		return nil, fmt.Errorf("asyncify: failed to write stack pointer")
	}
	if !a.memory.WriteUint32Le(a.dataAddr+4, stackEnd) {
		return nil, fmt.Errorf("asyncify: failed to write stack end")
	}

	return a, nil
}

// newIdleAsyncify builds a state-only asyncify for tests; all export
// calls degrade to state flips.
func newIdleAsyncify() *Asyncify {
	return &Asyncify{dataAddr: DefaultDataAddr, stackSize: DefaultStackSize}
}

func (a *Asyncify) State() int32 {
	return atomic.LoadInt32(&a.state)
}

func (a *Asyncify) IsNormal() bool    { return a.State() == StateNormal }
func (a *Asyncify) IsUnwinding() bool { return a.State() == StateUnwinding }
func (a *Asyncify) IsRewinding() bool { return a.State() == StateRewinding }

func (a *Asyncify) StartUnwind(ctx context.Context) error {
	if a.exports.startUnwind != nil {
		if _, err := a.exports.startUnwind.Call(ctx, uint64(a.dataAddr)); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, StateUnwinding)
	return nil
}

func (a *Asyncify) StopUnwind(ctx context.Context) error {
	if a.exports.stopUnwind != nil {
		if _, err := a.exports.stopUnwind.Call(ctx); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, StateNormal)
	return nil
}

func (a *Asyncify) StartRewind(ctx context.Context) error {
	if a.exports.startRewind != nil {
		if _, err := a.exports.startRewind.Call(ctx, uint64(a.dataAddr)); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, StateRewinding)
	return nil
}

func (a *Asyncify) StopRewind(ctx context.Context) error {
	if a.exports.stopRewind != nil {
		if _, err := a.exports.stopRewind.Call(ctx); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, StateNormal)
	return nil
}

// ResetStack resets the stack pointer before a fresh entry call.
func (a *Asyncify) ResetStack() {
	if a.memory == nil {
		return
	}
	stackPtr := a.dataAddr + 8
	if !a.memory.WriteUint32Le(a.dataAddr, stackPtr) {
		Logger().Warn("asyncify: failed to reset stack pointer",
			zap.Uint32("dataAddr", a.dataAddr))
	}
}

// PendingOp is an asynchronous host operation yielded by a suspension.
// Execute runs on the host event loop while the interpreter stack sits
// unwound in linear memory.
type PendingOp interface {
	Execute(ctx context.Context) (uint64, error)
}

// StepStatus reports what a Step produced.
type StepStatus int

const (
	StepContinue StepStatus = iota // yielded an operation, expects resume
	StepDone                       // execution complete
)

// StepResult is the outcome of one Step.
type StepResult struct {
	PendingOp PendingOp
	Results   []uint64
	Status    StepStatus
}

// YieldResult carries a resolved operation's value back into Step.
type YieldResult struct {
	Error error
	Value uint64
}

// Scheduler manages suspension-aware execution of one entry function
// with step-based control, so the host event loop stays in charge
// between suspensions.
type Scheduler struct {
	fn          api.Function
	asyncify    *Asyncify
	pendingOp   PendingOp
	args        []uint64
	result      uint64
	initialized bool
}

// NewScheduler creates a scheduler over an asyncified instance.
func NewScheduler(asyncify *Asyncify) *Scheduler {
	return &Scheduler{asyncify: asyncify}
}

// SetPending registers the operation a suspending host function
// yielded. Called via Suspend.
func (s *Scheduler) SetPending(op PendingOp) {
	s.pendingOp = op
}

// TakeResult returns the resolved value for the rewinding host
// function. Called via Resume.
func (s *Scheduler) TakeResult() uint64 {
	return s.result
}

// Execute prepares the entry function. Call Step to advance.
func (s *Scheduler) Execute(ctx context.Context, fn api.Function, args ...uint64) error {
	if !s.asyncify.IsNormal() {
		return fmt.Errorf("scheduler: asyncify not in normal state")
	}
	_ = ctx
	s.fn = fn
	s.args = args
	s.initialized = true
	s.asyncify.ResetStack()
	return nil
}

// Step advances execution. Pass nil on the first call, then the
// YieldResult of each resolved operation to resume.
func (s *Scheduler) Step(ctx context.Context, yr *YieldResult) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if !s.initialized {
		return StepResult{}, fmt.Errorf("scheduler: call Execute first")
	}

	if yr != nil {
		if yr.Error != nil {
			// The guest stays unwound; the run is over.
			return StepResult{}, yr.Error
		}
		s.result = yr.Value
		if err := s.asyncify.StartRewind(ctx); err != nil {
			return StepResult{}, fmt.Errorf("scheduler: start rewind: %w", err)
		}
	}

	results, callErr := s.fn.Call(ctx, s.args...)

	if s.asyncify.IsUnwinding() {
		if err := s.asyncify.StopUnwind(ctx); err != nil {
			return StepResult{}, fmt.Errorf("scheduler: stop unwind: %w", err)
		}
		if s.pendingOp == nil {
			return StepResult{}, fmt.Errorf("scheduler: no pending operation after unwind")
		}
		op := s.pendingOp
		s.pendingOp = nil
		return StepResult{Status: StepContinue, PendingOp: op}, nil
	}

	if callErr != nil {
		return StepResult{}, callErr
	}

	s.initialized = false
	return StepResult{Status: StepDone, Results: results}, nil
}

// Run executes with an internal event loop. Convenience wrapper over
// Execute and Step for hosts without their own loop.
func (s *Scheduler) Run(ctx context.Context, fn api.Function, args ...uint64) ([]uint64, error) {
	if err := s.Execute(ctx, fn, args...); err != nil {
		return nil, err
	}

	var yr *YieldResult
	for {
		sr, err := s.Step(ctx, yr)
		if err != nil {
			return nil, err
		}
		switch sr.Status {
		case StepDone:
			return sr.Results, nil
		case StepContinue:
			val, opErr := sr.PendingOp.Execute(ctx)
			yr = &YieldResult{Value: val, Error: opErr}
		}
	}
}

type ctxKeyScheduler struct{}
type ctxKeyAsyncify struct{}

// WithScheduler attaches a scheduler to the context handed to guest
// calls, so host functions can reach it.
func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, ctxKeyScheduler{}, s)
}

// SchedulerFrom returns the scheduler attached to ctx, or nil.
func SchedulerFrom(ctx context.Context) *Scheduler {
	if v := ctx.Value(ctxKeyScheduler{}); v != nil {
		return v.(*Scheduler)
	}
	return nil
}

// WithAsyncify attaches the asyncify state machine to the context.
func WithAsyncify(ctx context.Context, a *Asyncify) context.Context {
	return context.WithValue(ctx, ctxKeyAsyncify{}, a)
}

// AsyncifyFrom returns the asyncify attached to ctx, or nil.
func AsyncifyFrom(ctx context.Context) *Asyncify {
	if v := ctx.Value(ctxKeyAsyncify{}); v != nil {
		return v.(*Asyncify)
	}
	return nil
}

// Suspend registers op and starts unwinding. Called by host functions
// that need to block on a host-asynchronous operation.
func Suspend(ctx context.Context, op PendingOp) error {
	sched := SchedulerFrom(ctx)
	async := AsyncifyFrom(ctx)
	if sched == nil || async == nil {
		return fmt.Errorf("suspend: scheduler or asyncify not in context")
	}
	sched.SetPending(op)
	return async.StartUnwind(ctx)
}

// Resume stops the rewind and hands the suspended operation's result
// to the re-entered host function.
func Resume(ctx context.Context) (uint64, error) {
	sched := SchedulerFrom(ctx)
	async := AsyncifyFrom(ctx)
	if sched == nil || async == nil {
		return 0, fmt.Errorf("resume: scheduler or asyncify not in context")
	}
	result := sched.TakeResult()
	if err := async.StopRewind(ctx); err != nil {
		return 0, err
	}
	return result, nil
}
