package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiskInitializeEnumeratesRecursively(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "saves", "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "transcript.txt"), []byte("log"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "saves", "deep", "slot1"), []byte("save"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDisk(root, nil)
	files, err := d.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	if f := files["saves/deep/slot1"]; f == nil || string(f.Data) != "save" {
		t.Errorf("nested file = %+v", f)
	}
	if f := files["transcript.txt"]; f == nil || string(f.Data) != "log" {
		t.Errorf("top-level file = %+v", f)
	}
}

func TestDiskInitializeMissingRoot(t *testing.T) {
	d := NewDisk(filepath.Join(t.TempDir(), "absent"), nil)
	files, err := d.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("missing root should be an empty namespace, got %v", files)
	}
}

func TestDiskCreateFileIdempotent(t *testing.T) {
	root := t.TempDir()
	d := NewDisk(root, nil)
	ctx := context.Background()

	if _, err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	f1, err := d.CreateFile(ctx, "saves/slot1")
	if err != nil {
		t.Fatalf("CreateFile error: %v", err)
	}
	f1.Write([]byte("progress"))

	// Second create must return the same handle, contents intact.
	f2, err := d.CreateFile(ctx, "saves/slot1")
	if err != nil {
		t.Fatalf("CreateFile (second) error: %v", err)
	}
	if f1 != f2 {
		t.Error("second create returned a different handle")
	}
	if string(f2.Data) != "progress" {
		t.Errorf("second create reset contents: %q", f2.Data)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Exactly one durable file exists with the written contents.
	data, err := os.ReadFile(filepath.Join(root, "saves", "slot1"))
	if err != nil {
		t.Fatalf("durable copy missing: %v", err)
	}
	if string(data) != "progress" {
		t.Errorf("durable copy = %q, want %q", data, "progress")
	}
}

func TestDiskCreatePicksUpExistingFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "old.glksave"), []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Created in a fresh provider that never ran Initialize: the
	// on-disk copy must survive untouched.
	d := NewDisk(root, nil)
	f, err := d.CreateFile(context.Background(), "old.glksave")
	if err != nil {
		t.Fatalf("CreateFile error: %v", err)
	}
	if string(f.Data) != "previous run" {
		t.Errorf("existing contents = %q, want preserved", f.Data)
	}
}

func TestDiskPersistsOnClose(t *testing.T) {
	root := t.TempDir()
	d := NewDisk(root, nil)
	ctx := context.Background()

	f, err := d.CreateFile(ctx, "nested/dir/save.glksave")
	if err != nil {
		t.Fatalf("CreateFile error: %v", err)
	}
	f.Write([]byte("state"))
	if err := d.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "nested", "dir", "save.glksave"))
	if err != nil {
		t.Fatalf("nested durable copy missing: %v", err)
	}
	if string(data) != "state" {
		t.Errorf("durable copy = %q", data)
	}
}
