package storage

import (
	"strings"
	"testing"
)

func TestShouldPersistReadOnlySet(t *testing.T) {
	m := NewMem()

	for name := range readOnlyNames {
		if m.ShouldPersist(name) {
			t.Errorf("ShouldPersist(%q) = true, want false", name)
		}
		// Independent of nesting.
		nested := "saves/deep/" + name
		if m.ShouldPersist(nested) {
			t.Errorf("ShouldPersist(%q) = true, want false", nested)
		}
	}

	for _, name := range []string{"game.glksave", "transcript.txt", "saves/slot1", "a/b/c.dat"} {
		if !m.ShouldPersist(name) {
			t.Errorf("ShouldPersist(%q) = false, want true", name)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"saves/slot1", "saves/slot1"},
		{"/saves/slot1", "saves/slot1"},
		{"saves//slot1", "saves/slot1"},
		{"saves/../slot1", "slot1"},
		{"saves\\slot1", "saves/slot1"},
	}
	for _, tt := range tests {
		if got := normalize(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandlePromptDeterministic(t *testing.T) {
	m := NewMem()
	meta := Metadata{Story: "Spider And Web", Usage: "save"}

	first := m.HandlePrompt(meta)
	second := m.HandlePrompt(meta)
	if first != second {
		t.Errorf("HandlePrompt not deterministic: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "spider-and-web-save-") {
		t.Errorf("name = %q, want sanitized story + usage prefix", first)
	}
	if !strings.HasSuffix(first, ".glksave") {
		t.Errorf("name = %q, want save extension", first)
	}

	other := m.HandlePrompt(Metadata{Story: "Spider And Web", Usage: "transcript"})
	if other == first {
		t.Error("different usages must not collide")
	}
}

func TestFileWriteAt(t *testing.T) {
	f := &File{Path: "x"}
	f.Write([]byte("hello"))
	f.WriteAt([]byte("HELLO WORLD"), 0)
	if string(f.Data) != "HELLO WORLD" {
		t.Errorf("Data = %q", f.Data)
	}
	f.WriteAt([]byte("!"), 3)
	if string(f.Data) != "HEL!O WORLD" {
		t.Errorf("Data = %q", f.Data)
	}
	if !f.dirty {
		t.Error("writes must mark the handle dirty")
	}
}
