// Package blorb parses Blorb resource containers.
//
// A Blorb file packages a runnable story image together with auxiliary
// media (pictures, sounds) in an IFF-style chunked layout. The parser
// reads only the resource index eagerly; chunk payloads are sliced out
// of the container bytes on demand.
//
// Image lookups parse just enough of the embedded format header (PNG
// IHDR, JPEG SOF0) to report dimensions without decoding pixel data.
package blorb
