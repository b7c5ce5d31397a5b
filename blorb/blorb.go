package blorb

import (
	"encoding/binary"

	"github.com/storyport/glkbridge/errors"
)

// headerLen is the fixed container header: "FORM" + total length + "IFRS".
const headerLen = 12

// Usage identifies the resource category a chunk belongs to.
type Usage string

const (
	UsageExec Usage = "Exec"
	UsagePict Usage = "Pict"
	UsageSnd  Usage = "Snd "
	UsageData Usage = "Data"
)

// Executable chunk types recognized in the Exec category.
const (
	ExecGlulx = "GLUL"
	ExecZCode = "ZCOD"
)

// Resource is one indexed chunk, materialized on lookup.
type Resource struct {
	Usage  Usage
	Type   string
	Number uint32
	Data   []byte
}

// Handle is a stable reference to a resource's raw bytes, cached per
// resource number until Dispose.
type Handle struct {
	Number uint32
	Data   []byte
}

// entry is one RIdx triple. Offset is absolute from the container start.
type entry struct {
	usage  Usage
	number uint32
	offset uint32
}

// Blorb is a parsed container. Payloads are sliced lazily by index offset.
type Blorb struct {
	data    []byte
	index   []entry
	handles map[uint32]*Handle
}

// IsBlorb reports whether data starts with a valid 12-byte container
// header. Anything shorter than the header is rejected.
func IsBlorb(data []byte) bool {
	if len(data) < headerLen {
		return false
	}
	return string(data[0:4]) == "FORM" && string(data[8:12]) == "IFRS"
}

// New parses the container's resource index. A missing or invalid magic
// header is the only hard failure; malformed chunks degrade to absent
// resources on lookup.
func New(data []byte) (*Blorb, error) {
	if len(data) < headerLen {
		return nil, errors.Truncated(errors.PhaseParse, "container header", len(data), headerLen)
	}
	if !IsBlorb(data) {
		return nil, errors.InvalidData(errors.PhaseParse, "not a FORM/IFRS container")
	}

	b := &Blorb{
		data:    data,
		handles: make(map[uint32]*Handle),
	}

	// Scan consecutive chunks from the header onward. The index chunk is
	// the only one read eagerly.
	pos := headerLen
	for pos+8 <= len(data) {
		tag := string(data[pos : pos+4])
		size := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			break // truncated chunk, ignore the rest
		}
		if tag == "RIdx" {
			b.parseIndex(data[body : body+size])
		}
		pos = body + size
		if pos%2 == 1 {
			pos++ // chunks are padded to even length
		}
	}

	return b, nil
}

func (b *Blorb) parseIndex(body []byte) {
	if len(body) < 4 {
		return
	}
	count := int(binary.BigEndian.Uint32(body[0:4]))
	pos := 4
	for i := 0; i < count && pos+12 <= len(body); i++ {
		b.index = append(b.index, entry{
			usage:  Usage(body[pos : pos+4]),
			number: binary.BigEndian.Uint32(body[pos+4 : pos+8]),
			offset: binary.BigEndian.Uint32(body[pos+8 : pos+12]),
		})
		pos += 12
	}
}

// chunk slices out the chunk at an absolute offset. Returns empty type
// on any out-of-range access.
func (b *Blorb) chunk(offset uint32) (string, []byte) {
	off := int(offset)
	if off < 0 || off+8 > len(b.data) {
		return "", nil
	}
	tag := string(b.data[off : off+4])
	size := int(binary.BigEndian.Uint32(b.data[off+4 : off+8]))
	body := off + 8
	if size < 0 || body+size > len(b.data) {
		return "", nil
	}
	return tag, b.data[body : body+size]
}

func (b *Blorb) lookup(usage Usage, number uint32) *Resource {
	for _, e := range b.index {
		if e.usage != usage || e.number != number {
			continue
		}
		tag, body := b.chunk(e.offset)
		if tag == "" {
			return nil
		}
		return &Resource{Usage: usage, Type: tag, Number: number, Data: body}
	}
	return nil
}

// Executable returns the Exec resource holding the runnable image, or
// nil when the container carries none. Resource number 0 by convention.
func (b *Blorb) Executable() *Resource {
	return b.lookup(UsageExec, 0)
}

// Image returns the Pict resource with the given number, or nil.
func (b *Blorb) Image(number uint32) *Resource {
	return b.lookup(UsagePict, number)
}

// Sound returns the Snd resource with the given number, or nil.
func (b *Blorb) Sound(number uint32) *Resource {
	return b.lookup(UsageSnd, number)
}

// Metadata returns the raw IFmd chunk bytes when present, nil otherwise.
// The chunk is located by a linear scan since it is not indexed.
func (b *Blorb) Metadata() []byte {
	pos := headerLen
	for pos+8 <= len(b.data) {
		tag := string(b.data[pos : pos+4])
		size := int(binary.BigEndian.Uint32(b.data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(b.data) {
			return nil
		}
		if tag == "IFmd" {
			return b.data[body : body+size]
		}
		pos = body + size
		if pos%2 == 1 {
			pos++
		}
	}
	return nil
}

// ImageHandle returns a stable handle to the image's raw bytes. Repeated
// calls for the same number return the identical handle until Dispose.
func (b *Blorb) ImageHandle(number uint32) *Handle {
	if h, ok := b.handles[number]; ok {
		return h
	}
	res := b.Image(number)
	if res == nil {
		return nil
	}
	h := &Handle{Number: number, Data: res.Data}
	b.handles[number] = h
	return h
}

// Dispose releases all cached handles.
func (b *Blorb) Dispose() {
	b.handles = make(map[uint32]*Handle)
}
