// Package engine wraps wazero and implements the asyncify suspension
// protocol the bridge rides on.
//
// Interpreter binaries are core WASI modules instrumented with
// wasm-opt --asyncify. When a host function needs to block on an
// asynchronous host operation, it calls Suspend: the interpreter's
// call stack is unwound into linear memory and the entry call returns
// to the Scheduler, which hands the pending operation to the host
// event loop. Once the operation resolves, Step rewinds the stack and
// re-enters the interpreter exactly where it left off; the host
// function observes the rewind and returns the operation's result via
// Resume.
//
// Only one interpreter call is ever in flight per run, so a single
// Asyncify/Scheduler pair per instance is sufficient.
package engine
