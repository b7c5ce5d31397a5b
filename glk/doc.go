// Package glk implements the host-side Glk window/stream/event state
// machine for one interpreter run.
//
// A Model owns every window and stream for its run; nothing is global,
// and no state survives the run. Mutating calls append to a per-window
// pending-change buffer; none of them produce wire bytes. Select is the
// single yield point: it stamps the pending changes with a fresh
// generation number and hands them back as a Batch for the protocol
// codec to serialize. Input is fed back with FeedLine/FeedChar, which
// reject events whose generation does not match the batch that
// requested them.
//
// Capability queries (Gestalt) answer truthfully for this runtime:
// sound, graphics drawing, and timers are unsupported; unicode and
// hyperlinks are.
package glk
