// Package protocol serializes Glk runtime state into the line-delimited
// JSON update protocol and parses input events back out of it.
//
// The wire format is a closed tagged union, one object per line:
//
//	{"type":"init","gen":0,"support":[...],"metrics":{...}}
//	{"type":"update","gen":N,"windows":[...],"content":[...],"input":[...]}
//	{"type":"error","gen":0,"message":"..."}
//	{"type":"exit","gen":N,"status":0}
//
// and in the input direction:
//
//	{"type":"line"|"char","gen":N,"window":id,"value":"..."}
//
// plus arrange, redraw, hyperlink, and pointer events. Unknown tags are
// rejected explicitly. Input events whose generation does not match the
// generation of the last emitted input request are dropped, not
// errored: they are a race between a stale view and a new prompt.
package protocol
