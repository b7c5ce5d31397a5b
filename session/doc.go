// Package session is the top-level orchestrator of one interpreter
// run. A Session loads the story, resolves its format, instantiates
// the asyncified interpreter binary, and wires the runtime model,
// protocol codec, storage provider, and suspension bridge together.
//
// The run surfaces as a forward-only sequence of client updates from
// Updates. Input events flow back through SendLine, SendChar, and
// SendEvent; each satisfies at most the single outstanding input
// request. Stop terminates the run and completes the sequence even
// while the interpreter sits suspended on a read.
package session
