package blorb

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildContainer serializes resources into a valid FORM/IFRS container.
// Chunk types are taken per-resource from types (parallel slice).
func buildContainer(t *testing.T, resources []Resource) []byte {
	t.Helper()

	var body bytes.Buffer

	// RIdx chunk first: count + one triple per resource. Offsets are
	// filled after layout is known.
	ridxSize := 4 + 12*len(resources)
	offsets := make([]uint32, len(resources))
	// header (12) + RIdx header (8) + RIdx body, then chunks in order
	pos := headerLen + 8 + ridxSize
	if pos%2 == 1 {
		pos++
	}
	for i, res := range resources {
		offsets[i] = uint32(pos)
		pos += 8 + len(res.Data)
		if pos%2 == 1 {
			pos++
		}
	}

	body.WriteString("RIdx")
	binary.Write(&body, binary.BigEndian, uint32(ridxSize))
	binary.Write(&body, binary.BigEndian, uint32(len(resources)))
	for i, res := range resources {
		body.WriteString(string(res.Usage))
		binary.Write(&body, binary.BigEndian, res.Number)
		binary.Write(&body, binary.BigEndian, offsets[i])
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}

	for _, res := range resources {
		body.WriteString(res.Type)
		binary.Write(&body, binary.BigEndian, uint32(len(res.Data)))
		body.Write(res.Data)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString("FORM")
	binary.Write(&out, binary.BigEndian, uint32(4+body.Len()))
	out.WriteString("IFRS")
	out.Write(body.Bytes())
	return out.Bytes()
}

// pngChunk builds a minimal PNG prefix with the given IHDR dimensions.
func pngChunk(width, height uint32) []byte {
	data := make([]byte, 24)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	// IHDR length + tag
	binary.BigEndian.PutUint32(data[8:12], 13)
	copy(data[12:16], "IHDR")
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	return data
}

func TestIsBlorb(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"valid header", buildContainer(t, nil), true},
		{"empty", nil, false},
		{"short header", []byte("FORM\x00\x00\x00\x04IFR"), false},
		{"wrong group tag", []byte("XORM\x00\x00\x00\x04IFRS"), false},
		{"wrong format tag", []byte("FORM\x00\x00\x00\x04IFZS"), false},
		{"long non-container", bytes.Repeat([]byte{0xAB}, 4096), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBlorb(tt.data); got != tt.want {
				t.Errorf("IsBlorb() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRejectsBadHeader(t *testing.T) {
	if _, err := New([]byte("FORM")); err == nil {
		t.Error("expected error for truncated header")
	}
	if _, err := New(bytes.Repeat([]byte{1}, 64)); err == nil {
		t.Error("expected error for missing magic")
	}
}

func TestRoundTrip(t *testing.T) {
	resources := []Resource{
		{Usage: UsageExec, Type: "GLUL", Number: 0, Data: []byte("glulx image bytes")},
		{Usage: UsagePict, Type: "PNG ", Number: 1, Data: pngChunk(320, 240)},
		{Usage: UsagePict, Type: "JPEG", Number: 2, Data: []byte{0xFF, 0xD8, 0xFF, 0xC0, 0x00, 0x0B, 0x08, 0x00, 0x64, 0x00, 0xC8, 0x03}},
		{Usage: UsageSnd, Type: "OGGV", Number: 1, Data: []byte("oggdata")},
	}

	b, err := New(buildContainer(t, resources))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, want := range resources {
		var got *Resource
		switch want.Usage {
		case UsageExec:
			got = b.Executable()
		case UsagePict:
			got = b.Image(want.Number)
		case UsageSnd:
			got = b.Sound(want.Number)
		}
		if got == nil {
			t.Fatalf("resource %s/%d not found", want.Usage, want.Number)
		}
		if got.Type != want.Type {
			t.Errorf("resource %s/%d type = %q, want %q", want.Usage, want.Number, got.Type, want.Type)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("resource %s/%d bytes differ", want.Usage, want.Number)
		}
	}
}

func TestResourceNumbersUniquePerUsage(t *testing.T) {
	// Pict 1 and Snd 1 coexist; numbers are scoped to the usage category.
	b, err := New(buildContainer(t, []Resource{
		{Usage: UsagePict, Type: "PNG ", Number: 1, Data: pngChunk(8, 8)},
		{Usage: UsageSnd, Type: "OGGV", Number: 1, Data: []byte("snd")},
	}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if b.Image(1) == nil || b.Sound(1) == nil {
		t.Fatal("expected both Pict 1 and Snd 1 to resolve")
	}
	if b.Image(1).Type == b.Sound(1).Type {
		t.Error("lookups collapsed across usage categories")
	}
}

func TestExecutableAndImageInfo(t *testing.T) {
	b, err := New(buildContainer(t, []Resource{
		{Usage: UsageExec, Type: "GLUL", Number: 0, Data: []byte("image")},
		{Usage: UsagePict, Type: "PNG ", Number: 1, Data: pngChunk(320, 240)},
	}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	exec := b.Executable()
	if exec == nil || exec.Type != ExecGlulx {
		t.Fatalf("Executable() = %+v, want type GLUL", exec)
	}

	info := b.ImageInfo(1)
	if info == nil || info.Width != 320 || info.Height != 240 {
		t.Fatalf("ImageInfo(1) = %+v, want {320 240}", info)
	}
}

func TestJPEGInfo(t *testing.T) {
	// SOI, then SOF0 with height=100 width=200.
	jpg := []byte{0xFF, 0xD8, 0xFF, 0xC0, 0x00, 0x0B, 0x08, 0x00, 0x64, 0x00, 0xC8, 0x03}
	b, err := New(buildContainer(t, []Resource{
		{Usage: UsagePict, Type: "JPEG", Number: 7, Data: jpg},
	}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	info := b.ImageInfo(7)
	if info == nil || info.Width != 200 || info.Height != 100 {
		t.Fatalf("ImageInfo(7) = %+v, want {200 100}", info)
	}
}

func TestMalformedLookupsReturnNil(t *testing.T) {
	// Hand-build a container whose index points past the end.
	var body bytes.Buffer
	body.WriteString("RIdx")
	binary.Write(&body, binary.BigEndian, uint32(16))
	binary.Write(&body, binary.BigEndian, uint32(1))
	body.WriteString("Pict")
	binary.Write(&body, binary.BigEndian, uint32(5))
	binary.Write(&body, binary.BigEndian, uint32(0xFFFF))

	var out bytes.Buffer
	out.WriteString("FORM")
	binary.Write(&out, binary.BigEndian, uint32(4+body.Len()))
	out.WriteString("IFRS")
	out.Write(body.Bytes())

	b, err := New(out.Bytes())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if res := b.Image(5); res != nil {
		t.Errorf("Image(5) = %+v, want nil for offset past end", res)
	}
	if res := b.Image(99); res != nil {
		t.Errorf("Image(99) = %+v, want nil for unknown number", res)
	}
	if b.Executable() != nil {
		t.Error("Executable() should be nil when no Exec resource exists")
	}
}

func TestImageHandleCaching(t *testing.T) {
	b, err := New(buildContainer(t, []Resource{
		{Usage: UsagePict, Type: "PNG ", Number: 3, Data: pngChunk(16, 16)},
	}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	h1 := b.ImageHandle(3)
	h2 := b.ImageHandle(3)
	if h1 == nil || h1 != h2 {
		t.Error("expected identical handle until disposal")
	}

	b.Dispose()
	h3 := b.ImageHandle(3)
	if h3 == h1 {
		t.Error("expected fresh handle after Dispose")
	}
	if b.ImageHandle(99) != nil {
		t.Error("expected nil handle for unknown image")
	}
}

func TestMetadata(t *testing.T) {
	resources := []Resource{
		{Usage: UsageExec, Type: "ZCOD", Number: 0, Data: []byte{3, 0, 0}},
	}
	data := buildContainer(t, resources)

	// Append an unindexed IFmd chunk.
	meta := []byte("<ifindex/>")
	var out bytes.Buffer
	out.Write(data)
	out.WriteString("IFmd")
	binary.Write(&out, binary.BigEndian, uint32(len(meta)))
	out.Write(meta)

	b, err := New(out.Bytes())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := b.Metadata(); !bytes.Equal(got, meta) {
		t.Errorf("Metadata() = %q, want %q", got, meta)
	}
}
