package glk

// WindowType discriminates the four Glk window kinds.
type WindowType int

const (
	WinTextBuffer WindowType = iota
	WinTextGrid
	WinGraphics
	WinPair
)

func (t WindowType) String() string {
	switch t {
	case WinTextBuffer:
		return "buffer"
	case WinTextGrid:
		return "grid"
	case WinGraphics:
		return "graphics"
	case WinPair:
		return "pair"
	}
	return "unknown"
}

// FileMode is a stream open mode.
type FileMode int

const (
	ModeRead FileMode = iota
	ModeWrite
	ModeReadWrite
	ModeAppend
)

// SeekMode for SetPosition.
type SeekMode int

const (
	SeekStart SeekMode = iota
	SeekCurrent
	SeekEnd
)

// SplitDir is the placement of a new window relative to its sibling.
type SplitDir int

const (
	SplitLeft SplitDir = iota
	SplitRight
	SplitAbove
	SplitBelow
)

// SplitPolicy describes how a pair window divides its rectangle.
type SplitPolicy struct {
	Dir        SplitDir
	Size       uint32
	Fixed      bool // fixed rows/cols rather than a percentage
	Border     bool
	KeyWindow  uint32 // window whose metrics the fixed size is measured in
}

// InputType is the kind of input a request waits for.
type InputType int

const (
	InputLine InputType = iota
	InputChar
)

func (t InputType) String() string {
	if t == InputChar {
		return "char"
	}
	return "line"
}

// InputRequest is the single outstanding prompt for input.
type InputRequest struct {
	WindowID  uint32
	Type      InputType
	MaxLength int
	Gen       int
}

// ImageRef is a special span referencing a container image.
type ImageRef struct {
	Number    uint32
	Alignment string
	Width     uint32
	Height    uint32
}

// Span is one styled text run or special span in a window's pending
// content. Specials are distinguished by shape: exactly one of Text,
// Image, or FlowBreak is meaningful.
type Span struct {
	Style     string
	Text      string
	Hyperlink uint32
	Image     *ImageRef
	FlowBreak bool
}

// WindowContent is the pending content of one window since the last
// flush. When Clear is set the consumer discards prior content first.
type WindowContent struct {
	ID    uint32
	Clear bool
	Spans []Span
}

// WindowState is a geometry snapshot of one changed window.
type WindowState struct {
	ID     uint32
	Type   WindowType
	Rock   uint32
	Left   int
	Top    int
	Width  int
	Height int
}

// Batch is one generation's worth of pending changes, drained by
// Select and serialized by the protocol codec.
type Batch struct {
	Gen     int
	Windows []WindowState
	Content []WindowContent
	Input   *InputRequest
}

// StreamResult reports the read/write counters of a closed stream or
// window.
type StreamResult struct {
	ReadCount  uint32
	WriteCount uint32
}
