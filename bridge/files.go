package bridge

import (
	"path"
	"sort"
	"strings"

	"github.com/storyport/glkbridge/storage"
)

// Reserved file descriptors.
const (
	fdStdin  int32 = 0
	fdStdout int32 = 1
	fdStderr int32 = 2
	fdRoot   int32 = 3
	fdFirst  int32 = 4
)

// fdEntry is one open descriptor over an in-memory file.
type fdEntry struct {
	file     *storage.File
	path     string
	pos      int64
	readOnly bool
	append   bool
}

// fileTree is the in-memory view of the writable root plus the
// read-only story mount. The buffers here are authoritative for the
// run; durable copies are best-effort.
type fileTree struct {
	files map[string]*storage.File
	dirs  map[string]bool

	fds    map[int32]*fdEntry
	nextFD int32
}

func newFileTree() *fileTree {
	return &fileTree{
		files:  make(map[string]*storage.File),
		dirs:   map[string]bool{".": true},
		fds:    make(map[int32]*fdEntry),
		nextFD: fdFirst,
	}
}

// graft inserts a file at its nested position, creating intermediate
// directory levels as needed.
func (t *fileTree) graft(f *storage.File) {
	t.files[f.Path] = f
	dir := path.Dir(f.Path)
	for dir != "." && dir != "/" {
		t.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

// lookup returns the file at a normalized path, or nil.
func (t *fileTree) lookup(p string) *storage.File {
	return t.files[p]
}

// remove unlinks a file from the tree. Open descriptors keep their
// buffer.
func (t *fileTree) remove(p string) bool {
	if _, ok := t.files[p]; !ok {
		return false
	}
	delete(t.files, p)
	return true
}

// mkdir records a directory level.
func (t *fileTree) mkdir(p string) {
	if p != "" && p != "." {
		t.dirs[p] = true
	}
}

// isDir reports whether p is a known directory level.
func (t *fileTree) isDir(p string) bool {
	if p == "" || p == "." || p == "/" {
		return true
	}
	return t.dirs[p]
}

// open allocates a descriptor over f.
func (t *fileTree) open(f *storage.File, readOnly, appendMode bool) int32 {
	fd := t.nextFD
	t.nextFD++
	e := &fdEntry{file: f, path: f.Path, readOnly: readOnly, append: appendMode}
	if appendMode {
		e.pos = int64(len(f.Data))
	}
	t.fds[fd] = e
	return fd
}

// openDir allocates a descriptor over a directory level. The entry
// carries no file.
func (t *fileTree) openDir(p string) int32 {
	fd := t.nextFD
	t.nextFD++
	t.fds[fd] = &fdEntry{path: p, readOnly: true}
	return fd
}

// entry returns the descriptor entry, or nil for stdio/unknown fds.
func (t *fileTree) entry(fd int32) *fdEntry {
	return t.fds[fd]
}

// close releases a descriptor.
func (t *fileTree) close(fd int32) bool {
	if _, ok := t.fds[fd]; !ok {
		return false
	}
	delete(t.fds, fd)
	return true
}

// paths returns the known file paths in stable order.
func (t *fileTree) paths() []string {
	out := make([]string, 0, len(t.files))
	for p := range t.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// normalizePath cleans a guest-supplied path into the tree's
// slash-separated relative form.
func normalizePath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}
