// Package detect classifies story files into a format and the
// interpreter that runs them. Detection is a pure function over the
// file name and leading bytes; it performs no I/O.
package detect

import (
	"bytes"
	"path"
	"strings"

	"github.com/storyport/glkbridge/blorb"
)

// Format is a story file format.
type Format string

const (
	FormatZCode      Format = "zcode"
	FormatGlulx      Format = "glulx"
	FormatBlorb      Format = "blorb"
	FormatTADS2      Format = "tads2"
	FormatTADS3      Format = "tads3"
	FormatHugo       Format = "hugo"
	FormatAdrift     Format = "adrift"
	FormatLevel9     Format = "level9"
	FormatMagScrolls Format = "magscrolls"
	FormatAGT        Format = "agt"
	FormatAlan2      Format = "alan2"
	FormatAlan3      Format = "alan3"
)

// Result classifies one story file.
type Result struct {
	Format      Format
	Interpreter string
	IsContainer bool
}

// interpreters maps each format to the interpreter binary that runs it.
var interpreters = map[Format]string{
	FormatZCode:      "bocfel",
	FormatGlulx:      "glulxe",
	FormatTADS2:      "tads",
	FormatTADS3:      "tads",
	FormatHugo:       "hugo",
	FormatAdrift:     "scare",
	FormatLevel9:     "level9",
	FormatMagScrolls: "magnetic",
	FormatAGT:        "agility",
	FormatAlan2:      "alan2",
	FormatAlan3:      "alan3",
}

// extensions maps lowercase file extensions to formats. Blorb resolves
// further via the container's Exec chunk.
var extensions = map[string]Format{
	".z1": FormatZCode, ".z2": FormatZCode, ".z3": FormatZCode,
	".z4": FormatZCode, ".z5": FormatZCode, ".z6": FormatZCode,
	".z7": FormatZCode, ".z8": FormatZCode, ".dat": FormatZCode,
	".ulx":    FormatGlulx,
	".blb":    FormatBlorb,
	".blorb":  FormatBlorb,
	".zblorb": FormatBlorb, ".zlb": FormatBlorb,
	".gblorb": FormatBlorb, ".glb": FormatBlorb,
	".gam": FormatTADS2,
	".t3":  FormatTADS3,
	".hex": FormatHugo,
	".taf": FormatAdrift,
	".l9":  FormatLevel9, ".sna": FormatLevel9,
	".mag": FormatMagScrolls,
	".agx": FormatAGT, ".d$$": FormatAGT,
	".acd": FormatAlan2,
	".a3c": FormatAlan3,
}

// Detect classifies a story by name extension first, then magic bytes,
// then (for containers) the embedded executable type. Unrecognized
// input falls back to zcode, the historically dominant format.
func Detect(name string, data []byte) Result {
	if f, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return Resolve(f, data)
	}
	if f, ok := sniff(data); ok {
		return Resolve(f, data)
	}
	return Resolve(FormatZCode, data)
}

// sniff matches magic byte signatures.
func sniff(data []byte) (Format, bool) {
	switch {
	case blorb.IsBlorb(data):
		return FormatBlorb, true
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("Glul")):
		return FormatGlulx, true
	case len(data) >= 9 && bytes.Equal(data[0:9], []byte("TADS2 bin")):
		return FormatTADS2, true
	case len(data) >= 9 && bytes.Equal(data[0:9], []byte("T3-image\r")):
		return FormatTADS3, true
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x3C, 0x42, 0x3F, 0xC9}):
		return FormatAdrift, true
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("MaSc")):
		return FormatMagScrolls, true
	case len(data) >= 1 && data[0] >= 1 && data[0] <= 8:
		return FormatZCode, true
	}
	return "", false
}

// Resolve fills in the interpreter for an explicitly chosen format,
// opening containers to inspect the executable chunk type. It is the
// entry point for callers that override detection.
func Resolve(f Format, data []byte) Result {
	if f != FormatBlorb {
		return Result{Format: f, Interpreter: interpreters[f]}
	}

	res := Result{Format: FormatBlorb, IsContainer: true}
	b, err := blorb.New(data)
	if err != nil {
		return res
	}
	if exec := b.Executable(); exec != nil {
		switch exec.Type {
		case blorb.ExecGlulx:
			res.Interpreter = interpreters[FormatGlulx]
		case blorb.ExecZCode:
			res.Interpreter = interpreters[FormatZCode]
		}
	}
	return res
}
