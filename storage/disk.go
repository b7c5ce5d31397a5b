package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Disk persists the namespace as a durable per-story directory. Each
// handle is a whole file loaded at Initialize and flushed at Close.
type Disk struct {
	root string
	log  *zap.Logger

	mu    sync.Mutex
	files map[string]*File
}

// NewDisk creates a disk provider rooted at dir. The directory is
// created on first use, not here. logger may be nil.
func NewDisk(dir string, logger *zap.Logger) *Disk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Disk{
		root:  dir,
		log:   logger,
		files: make(map[string]*File),
	}
}

// Initialize recursively enumerates the namespace directory, one
// loaded handle per regular file. A missing root is an empty
// namespace, not an error.
func (d *Disk) Initialize(ctx context.Context) (map[string]*File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]*File)
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			d.log.Warn("skipping unreadable file in namespace",
				zap.String("path", p), zap.Error(err))
			return nil
		}
		key := normalize(filepath.ToSlash(rel))
		f := &File{Path: key, Data: data, Store: StoreDurable}
		d.files[key] = f
		out[key] = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Disk) ShouldPersist(p string) bool {
	return shouldPersistName(p)
}

// CreateFile creates the file at a possibly nested path, making
// intermediate directories as needed. Creation is idempotent: an
// existing handle or on-disk file is returned with contents intact.
func (d *Disk) CreateFile(ctx context.Context, p string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := normalize(p)
	if f, ok := d.files[key]; ok {
		return f, nil
	}

	full := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}

	f := &File{Path: key, Store: StoreDurable}
	if data, err := os.ReadFile(full); err == nil {
		// Present on disk but not yet loaded; no destructive re-create.
		f.Data = data
	} else {
		fd, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if err := fd.Close(); err != nil {
			return nil, err
		}
	}
	d.files[key] = f
	return f, nil
}

func (d *Disk) HandlePrompt(meta Metadata) string {
	return promptName(meta)
}

// Close flushes every dirty handle. A failed flush is logged and the
// remaining handles still close.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range d.files {
		if !f.dirty {
			continue
		}
		full := filepath.Join(d.root, filepath.FromSlash(f.Path))
		if err := os.WriteFile(full, f.Data, 0o644); err != nil {
			d.log.Warn("failed to persist file",
				zap.String("path", f.Path), zap.Error(err))
			continue
		}
		f.dirty = false
	}
	d.files = make(map[string]*File)
	return nil
}
