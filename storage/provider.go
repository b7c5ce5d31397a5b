package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// BackingStore identifies where a file's durable copy lives.
type BackingStore string

const (
	StoreDurable   BackingStore = "durable"
	StoreExternal  BackingStore = "external"
	StoreEphemeral BackingStore = "ephemeral"
)

// File is one persisted file handle. Data is the authoritative buffer
// for the whole run; the backing store only sees it on flush.
type File struct {
	Path  string
	Data  []byte
	Store BackingStore

	dirty bool
}

// Write replaces the buffer contents and marks the handle dirty.
func (f *File) Write(data []byte) {
	f.Data = append(f.Data[:0], data...)
	f.dirty = true
}

// WriteAt overwrites or extends the buffer at off.
func (f *File) WriteAt(data []byte, off int) {
	if need := off + len(data); need > len(f.Data) {
		grown := make([]byte, need)
		copy(grown, f.Data)
		f.Data = grown
	}
	copy(f.Data[off:], data)
	f.dirty = true
}

// Metadata describes the file an interpreter is asking for, used to
// derive a name when no interactive chooser exists.
type Metadata struct {
	Story string // story identity (name or digest)
	Usage string // "save", "transcript", "data", ...
}

// Provider is the persistence backend contract. Any backend
// implementing these five operations can serve a run.
type Provider interface {
	// Initialize enumerates the existing namespace and returns one
	// loaded handle per file, keyed by normalized path.
	Initialize(ctx context.Context) (map[string]*File, error)

	// ShouldPersist reports whether the path belongs in durable
	// storage. Fixed read-only assets (the story image) never do.
	ShouldPersist(path string) bool

	// CreateFile idempotently creates a durable file at a possibly
	// nested path. An existing file is returned as-is, contents intact.
	CreateFile(ctx context.Context, path string) (*File, error)

	// HandlePrompt derives a deterministic file name when the
	// interpreter asks for one without a chooser available.
	HandlePrompt(meta Metadata) string

	// Close flushes and releases every open handle. Individual flush
	// failures are logged, not fatal.
	Close() error
}

// readOnlyNames is the fixed set of asset file names that are never
// routed to the persistence backend.
var readOnlyNames = map[string]bool{
	"storyfile":     true,
	"storyfile.blb": true,
	"interpreter":   true,
}

// shouldPersistName applies the read-only filter to a path's base name,
// independent of nesting.
func shouldPersistName(p string) bool {
	return !readOnlyNames[path.Base(normalize(p))]
}

// normalize cleans a namespace path to a slash-separated relative form.
func normalize(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// promptName builds a deterministic, collision-resistant file name from
// the story identity and file purpose.
func promptName(meta Metadata) string {
	usage := meta.Usage
	if usage == "" {
		usage = "data"
	}
	sum := sha256.Sum256([]byte(meta.Story + "\x00" + usage))
	ext := ".glkdata"
	if usage == "save" {
		ext = ".glksave"
	}
	story := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, meta.Story)
	if story == "" {
		story = "story"
	}
	return fmt.Sprintf("%s-%s-%s%s", story, usage, hex.EncodeToString(sum[:4]), ext)
}
