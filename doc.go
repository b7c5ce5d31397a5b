// Package glkbridge embeds synchronous interactive-fiction
// interpreters, compiled to WASM and instrumented with asyncify,
// inside an asynchronous Go host.
//
// The interpreter believes it is running on a blocking WASI terminal:
// it reads line-delimited JSON events from stdin and writes
// line-delimited JSON updates to stdout. The host intercepts the two
// blocking points (reading input, creating a durable file), unwinds
// the interpreter's stack while the real asynchronous work runs, and
// rewinds it with the result.
//
// Packages:
//
//   - blorb: IFRS resource container parsing (executables, images,
//     sounds, metadata)
//   - detect: story format detection and interpreter resolution
//   - glk: the host-side Glk runtime model (windows, streams, input
//     requests, generation counter)
//   - protocol: the wire codec between runtime batches and JSON lines
//   - storage: pluggable persistence for saves and transcripts
//   - wasm: minimal core-module inspection before instantiation
//   - engine: wazero runtime ownership and the asyncify scheduler
//   - bridge: the WASI surface and the two suspension points
//   - session: the orchestrator tying a run together
//   - cmd/glkrun: command line player (JSON stdio or terminal UI)
package glkbridge
