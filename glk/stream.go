package glk

// StreamKind discriminates the three stream kinds.
type StreamKind int

const (
	StreamWindow StreamKind = iota
	StreamMemory
	StreamFile
)

// Stream is one open Glk stream. Window streams route writes into the
// window's pending content; memory and file streams write to an
// in-memory buffer.
type Stream struct {
	ID   uint32
	Kind StreamKind
	Mode FileMode
	Rock uint32

	// File streams carry the abstract path they were opened against.
	Path string

	win       *Window
	buf       []byte
	pos       int
	style     string
	hyperlink uint32

	readCount  uint32
	writeCount uint32
	closed     bool
}

// Buffer returns the accumulated bytes of a memory or file stream.
func (s *Stream) Buffer() []byte {
	return s.buf
}

// Position returns the current read/write position.
func (s *Stream) Position() int {
	if s.Kind == StreamWindow {
		return 0
	}
	return s.pos
}

// SetPosition seeks within a memory or file stream. Window streams
// ignore seeks. Positions clamp to the buffer bounds.
func (s *Stream) SetPosition(pos int, mode SeekMode) {
	if s.Kind == StreamWindow {
		return
	}
	switch mode {
	case SeekCurrent:
		s.pos += pos
	case SeekEnd:
		s.pos = len(s.buf) + pos
	default:
		s.pos = pos
	}
	if s.pos < 0 {
		s.pos = 0
	}
	if s.pos > len(s.buf) {
		s.pos = len(s.buf)
	}
}

// write appends or overwrites at the current position.
func (s *Stream) write(data []byte) {
	s.writeCount += uint32(len(data))
	if s.Kind == StreamWindow {
		return // caller routes window writes into pending content
	}
	if s.Mode == ModeAppend {
		s.pos = len(s.buf)
	}
	for _, b := range data {
		if s.pos < len(s.buf) {
			s.buf[s.pos] = b
		} else {
			s.buf = append(s.buf, b)
		}
		s.pos++
	}
}

// Read copies up to len(p) bytes from the current position.
func (s *Stream) Read(p []byte) int {
	if s.Kind == StreamWindow || s.Mode == ModeWrite || s.Mode == ModeAppend {
		return 0
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	s.readCount += uint32(n)
	return n
}

// ReadLine copies bytes up to and including the next newline.
func (s *Stream) ReadLine(p []byte) int {
	if s.Kind == StreamWindow || s.Mode == ModeWrite || s.Mode == ModeAppend {
		return 0
	}
	n := 0
	for n < len(p) && s.pos < len(s.buf) {
		b := s.buf[s.pos]
		p[n] = b
		n++
		s.pos++
		s.readCount++
		if b == '\n' {
			break
		}
	}
	return n
}

// Result returns the stream's lifetime counters.
func (s *Stream) Result() StreamResult {
	return StreamResult{ReadCount: s.readCount, WriteCount: s.writeCount}
}
