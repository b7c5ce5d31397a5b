// Package wasm reads just enough of the core WebAssembly binary
// format to inspect a module before instantiation: the header and the
// export section. Full decoding and validation belong to the runtime.
package wasm

import (
	"encoding/binary"

	"github.com/storyport/glkbridge/errors"
)

const (
	// Magic is "\0asm".
	Magic uint32 = 0x6d736100
	// Version of the core binary format.
	Version uint32 = 1

	sectionCustom byte = 0
	sectionExport byte = 7
)

// Export kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Export is one entry of a module's export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// IsModule reports whether data starts with a core module header.
func IsModule(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return binary.LittleEndian.Uint32(data) == Magic &&
		binary.LittleEndian.Uint32(data[4:]) == Version
}

// ParseExports scans the section headers of a core module and decodes
// its export section. A module without one yields an empty slice.
func ParseExports(data []byte) ([]Export, error) {
	if !IsModule(data) {
		return nil, errors.InvalidData(errors.PhaseParse, "not a core wasm module")
	}

	pos := 8
	for pos < len(data) {
		id := data[pos]
		pos++
		size, n := leb128(data[pos:])
		if n == 0 {
			return nil, errors.Truncated(errors.PhaseParse, "section size", len(data)-pos, 1)
		}
		pos += n
		if pos+int(size) > len(data) {
			return nil, errors.Truncated(errors.PhaseParse, "section body", len(data)-pos, int(size))
		}
		if id == sectionExport {
			return parseExportSection(data[pos : pos+int(size)])
		}
		pos += int(size)
	}
	return nil, nil
}

// ExportedFunctions returns the names of all function exports.
func ExportedFunctions(data []byte) (map[string]bool, error) {
	exports, err := ParseExports(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(exports))
	for _, e := range exports {
		if e.Kind == KindFunc {
			out[e.Name] = true
		}
	}
	return out, nil
}

func parseExportSection(body []byte) ([]Export, error) {
	count, n := leb128(body)
	if n == 0 {
		return nil, errors.Truncated(errors.PhaseParse, "export count", len(body), 1)
	}
	pos := n

	exports := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, n := leb128(body[pos:])
		if n == 0 {
			return nil, errors.Truncated(errors.PhaseParse, "export name length", len(body)-pos, 1)
		}
		pos += n
		if pos+int(nameLen) > len(body) {
			return nil, errors.Truncated(errors.PhaseParse, "export name", len(body)-pos, int(nameLen))
		}
		name := string(body[pos : pos+int(nameLen)])
		pos += int(nameLen)

		if pos >= len(body) {
			return nil, errors.Truncated(errors.PhaseParse, "export kind", 0, 1)
		}
		kind := body[pos]
		pos++
		index, n := leb128(body[pos:])
		if n == 0 {
			return nil, errors.Truncated(errors.PhaseParse, "export index", len(body)-pos, 1)
		}
		pos += n

		exports = append(exports, Export{Name: name, Kind: kind, Index: index})
	}
	return exports, nil
}

// leb128 decodes an unsigned LEB128 value and returns it with the
// number of bytes consumed, 0 on malformed input.
func leb128(data []byte) (uint32, int) {
	var result uint32
	var shift uint
	for i := 0; i < len(data) && i < 5; i++ {
		b := data[i]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return 0, 0
}
