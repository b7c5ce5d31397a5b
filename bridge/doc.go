// Package bridge implements the suspension bridge between a blocking
// interpreter and its asynchronous host.
//
// The interpreter is a WASI preview1 module that speaks the wire
// protocol over stdin/stdout. The bridge provides that WASI surface as
// a host module and intercepts exactly two blocking primitives:
//
//   - reading stdin: the first read returns the synthesized init
//     handshake; later reads drain buffered event lines and, when
//     empty, suspend via the asyncify protocol until the host delivers
//     the next input event.
//
//   - creating a file under the writable root: paths that belong in
//     durable storage suspend while the storage provider materializes
//     the file, which is then grafted into the in-memory tree before
//     the open proceeds. On provider failure the open degrades to an
//     ephemeral in-memory file instead of aborting the run.
//
// Everything else (seeks, reads, writes on open handles) is served
// synchronously from in-memory buffers; the durable copy is flushed
// when the provider closes. The interpreter is single-threaded, so at
// most one read suspension and one create suspension exist at a time.
package bridge
