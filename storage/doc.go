// Package storage provides the pluggable persistence backends for a
// story's durable namespace.
//
// A Provider lazily materializes the files an interpreter writes (save
// games, transcripts) under a per-story namespace. During a run the
// in-memory File buffer is authoritative; the durable copy is
// best-effort, persisted when the provider closes. Three backends are
// included: Disk (a durable per-story directory), SQLite (a per-story
// database of path/blob rows), and Mem (the ephemeral fallback used
// when durable storage is unavailable).
package storage
