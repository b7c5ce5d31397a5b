package storage

import (
	"context"
	"sync"
)

// Mem is the ephemeral in-memory backend. It satisfies the Provider
// contract with no durable copy at all; runs fall back to it when the
// durable backend is unavailable.
type Mem struct {
	mu    sync.Mutex
	files map[string]*File
}

// NewMem creates an empty ephemeral provider.
func NewMem() *Mem {
	return &Mem{files: make(map[string]*File)}
}

func (m *Mem) Initialize(context.Context) (map[string]*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*File, len(m.files))
	for p, f := range m.files {
		out[p] = f
	}
	return out, nil
}

func (m *Mem) ShouldPersist(p string) bool {
	return shouldPersistName(p)
}

func (m *Mem) CreateFile(_ context.Context, p string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = normalize(p)
	if f, ok := m.files[p]; ok {
		return f, nil
	}
	f := &File{Path: p, Store: StoreEphemeral}
	m.files[p] = f
	return f, nil
}

func (m *Mem) HandlePrompt(meta Metadata) string {
	return promptName(meta)
}

func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string]*File)
	return nil
}
