package detect

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// glulxBlorb builds a minimal container with one Exec chunk of the
// given type.
func execBlorb(execType string) []byte {
	image := []byte("storyimage")

	var body bytes.Buffer
	body.WriteString("RIdx")
	binary.Write(&body, binary.BigEndian, uint32(16))
	binary.Write(&body, binary.BigEndian, uint32(1))
	body.WriteString("Exec")
	binary.Write(&body, binary.BigEndian, uint32(0))
	binary.Write(&body, binary.BigEndian, uint32(12+8+16)) // past header + RIdx
	body.WriteString(execType)
	binary.Write(&body, binary.BigEndian, uint32(len(image)))
	body.Write(image)

	var out bytes.Buffer
	out.WriteString("FORM")
	binary.Write(&out, binary.BigEndian, uint32(4+body.Len()))
	out.WriteString("IFRS")
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		data        []byte
		wantFormat  Format
		wantInterp  string
		isContainer bool
	}{
		{
			name:       "zcode by extension",
			file:       "zork1.z5",
			wantFormat: FormatZCode,
			wantInterp: "bocfel",
		},
		{
			name:       "glulx by extension",
			file:       "story.ulx",
			wantFormat: FormatGlulx,
			wantInterp: "glulxe",
		},
		{
			name:       "glulx by magic",
			file:       "story",
			data:       []byte("Glul\x00\x03\x01\x02"),
			wantFormat: FormatGlulx,
			wantInterp: "glulxe",
		},
		{
			name:       "zcode by version byte",
			file:       "",
			data:       []byte{5, 0, 0, 0},
			wantFormat: FormatZCode,
			wantInterp: "bocfel",
		},
		{
			name:       "tads3 by extension",
			file:       "deep.t3",
			wantFormat: FormatTADS3,
			wantInterp: "tads",
		},
		{
			name:       "hugo by extension",
			file:       "vault.hex",
			wantFormat: FormatHugo,
			wantInterp: "hugo",
		},
		{
			name:        "glulx blorb resolves via exec chunk",
			file:        "story.gblorb",
			data:        execBlorb("GLUL"),
			wantFormat:  FormatBlorb,
			wantInterp:  "glulxe",
			isContainer: true,
		},
		{
			name:        "zcode blorb resolves via exec chunk",
			file:        "story.zblorb",
			data:        execBlorb("ZCOD"),
			wantFormat:  FormatBlorb,
			wantInterp:  "bocfel",
			isContainer: true,
		},
		{
			name:        "container by magic without extension",
			file:        "download",
			data:        execBlorb("GLUL"),
			wantFormat:  FormatBlorb,
			wantInterp:  "glulxe",
			isContainer: true,
		},
		{
			name:       "unknown falls back to zcode",
			file:       "mystery.bin",
			data:       []byte{0xDE, 0xAD, 0xBE, 0xEF},
			wantFormat: FormatZCode,
			wantInterp: "bocfel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.file, tt.data)
			if got.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", got.Format, tt.wantFormat)
			}
			if got.Interpreter != tt.wantInterp {
				t.Errorf("Interpreter = %q, want %q", got.Interpreter, tt.wantInterp)
			}
			if got.IsContainer != tt.isContainer {
				t.Errorf("IsContainer = %v, want %v", got.IsContainer, tt.isContainer)
			}
		})
	}
}

func TestExtensionBeatsMagic(t *testing.T) {
	// A .ulx name wins even when the bytes look like a z-machine image.
	got := Detect("story.ulx", []byte{3, 0, 0, 0})
	if got.Format != FormatGlulx {
		t.Errorf("Format = %q, want glulx (extension precedence)", got.Format)
	}
}

func TestResolveOverride(t *testing.T) {
	// Caller override skips both extension and magic.
	got := Resolve(FormatTADS2, []byte{5, 0, 0})
	if got.Format != FormatTADS2 || got.Interpreter != "tads" {
		t.Errorf("Resolve() = %+v, want tads2/tads", got)
	}
}
