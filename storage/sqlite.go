package storage

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLite persists the namespace as path/blob rows in a per-story
// database file. Useful where a writable directory tree is not
// available but a single database file is.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger

	mu    sync.Mutex
	files map[string]*File
}

// NewSQLite opens (creating if needed) the database at dsn and ensures
// the schema. logger may be nil.
func NewSQLite(dsn string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{
		db:    db,
		log:   logger,
		files: make(map[string]*File),
	}, nil
}

func (s *SQLite) Initialize(ctx context.Context) (map[string]*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT path, data FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*File)
	for rows.Next() {
		var p string
		var data []byte
		if err := rows.Scan(&p, &data); err != nil {
			return nil, err
		}
		key := normalize(p)
		f := &File{Path: key, Data: data, Store: StoreDurable}
		s.files[key] = f
		out[key] = f
	}
	return out, rows.Err()
}

func (s *SQLite) ShouldPersist(p string) bool {
	return shouldPersistName(p)
}

func (s *SQLite) CreateFile(ctx context.Context, p string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(p)
	if f, ok := s.files[key]; ok {
		return f, nil
	}

	// INSERT OR IGNORE keeps creation idempotent across runs; existing
	// contents win over the empty row.
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO files (path, data) VALUES (?, ?)`, key, []byte{}); err != nil {
		return nil, err
	}

	f := &File{Path: key, Store: StoreDurable}
	var data []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT data FROM files WHERE path = ?`, key).Scan(&data); err == nil {
		f.Data = data
	}
	s.files[key] = f
	return f, nil
}

func (s *SQLite) HandlePrompt(meta Metadata) string {
	return promptName(meta)
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		if !f.dirty {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT INTO files (path, data) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
			f.Path, f.Data); err != nil {
			s.log.Warn("failed to persist file",
				zap.String("path", f.Path), zap.Error(err))
			continue
		}
		f.dirty = false
	}
	s.files = make(map[string]*File)
	return s.db.Close()
}
