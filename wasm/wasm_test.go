package wasm

import (
	"encoding/binary"
	"testing"
)

// buildModule assembles a minimal core module with the given export
// entries.
func buildModule(t *testing.T, exports []Export) []byte {
	t.Helper()
	mod := make([]byte, 8)
	binary.LittleEndian.PutUint32(mod, Magic)
	binary.LittleEndian.PutUint32(mod[4:], Version)

	var body []byte
	body = append(body, byte(len(exports)))
	for _, e := range exports {
		body = append(body, byte(len(e.Name)))
		body = append(body, e.Name...)
		body = append(body, e.Kind, byte(e.Index))
	}

	mod = append(mod, sectionExport, byte(len(body)))
	return append(mod, body...)
}

func TestParseExports(t *testing.T) {
	want := []Export{
		{Name: "_start", Kind: KindFunc, Index: 2},
		{Name: "memory", Kind: KindMemory, Index: 0},
		{Name: "asyncify_start_unwind", Kind: KindFunc, Index: 7},
	}
	got, err := ParseExports(buildModule(t, want))
	if err != nil {
		t.Fatalf("ParseExports: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d exports, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("export %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExportedFunctionsFiltersKind(t *testing.T) {
	mod := buildModule(t, []Export{
		{Name: "_start", Kind: KindFunc},
		{Name: "memory", Kind: KindMemory},
	})
	fns, err := ExportedFunctions(mod)
	if err != nil {
		t.Fatalf("ExportedFunctions: %v", err)
	}
	if !fns["_start"] || fns["memory"] {
		t.Fatalf("fns = %v", fns)
	}
}

func TestParseExportsNoSection(t *testing.T) {
	mod := make([]byte, 8)
	binary.LittleEndian.PutUint32(mod, Magic)
	binary.LittleEndian.PutUint32(mod[4:], Version)

	exports, err := ParseExports(mod)
	if err != nil {
		t.Fatalf("ParseExports: %v", err)
	}
	if len(exports) != 0 {
		t.Fatalf("exports = %v, want none", exports)
	}
}

func TestParseExportsRejectsGarbage(t *testing.T) {
	if _, err := ParseExports([]byte("GLUL not wasm")); err == nil {
		t.Error("non-module input must be rejected")
	}
	truncated := buildModule(t, []Export{{Name: "_start", Kind: KindFunc}})
	if _, err := ParseExports(truncated[:len(truncated)-3]); err == nil {
		t.Error("truncated section must be rejected")
	}
}

func TestIsModule(t *testing.T) {
	if IsModule([]byte("FORM....IFRS")) {
		t.Error("blorb header accepted as module")
	}
	if !IsModule(buildModule(t, nil)) {
		t.Error("valid header rejected")
	}
}
