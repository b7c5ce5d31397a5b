package glk

// Window is one open Glk window. Pair windows are internal split nodes
// with two children; all others are leaves.
type Window struct {
	ID   uint32
	Type WindowType
	Rock uint32

	// Geometry in character cells (pixels for graphics windows),
	// recomputed by layout whenever the tree or metrics change.
	Left, Top, Width, Height int

	parent *Window
	child1 *Window // the original window of the split
	child2 *Window // the window the split created
	policy SplitPolicy

	str  *Stream
	echo *Stream

	// Grid cursor
	curX, curY int

	pending []Span
	clear   bool
	closed  bool
}

// Stream returns the window's output stream.
func (w *Window) Stream() *Stream {
	return w.str
}

// EchoStream returns the stream mirroring this window's output, if any.
func (w *Window) EchoStream() *Stream {
	return w.echo
}

// Parent returns the pair window containing w, or nil for the root.
func (w *Window) Parent() *Window {
	return w.parent
}

// Sibling returns the other child of w's parent pair, or nil.
func (w *Window) Sibling() *Window {
	if w.parent == nil {
		return nil
	}
	if w.parent.child1 == w {
		return w.parent.child2
	}
	return w.parent.child1
}

// append adds a span, merging consecutive text runs that share style
// and hyperlink.
func (w *Window) append(sp Span) {
	if sp.Text != "" && len(w.pending) > 0 {
		last := &w.pending[len(w.pending)-1]
		if last.Text != "" && last.Style == sp.Style && last.Hyperlink == sp.Hyperlink {
			last.Text += sp.Text
			return
		}
	}
	w.pending = append(w.pending, sp)
}

// layout assigns geometry to the subtree rooted at w within the given
// rectangle. Pair windows split it per their policy; leaves take it
// whole.
func (w *Window) layout(left, top, width, height int) {
	w.Left, w.Top, w.Width, w.Height = left, top, width, height
	if w.Type != WinPair || w.child1 == nil || w.child2 == nil {
		return
	}

	p := w.policy
	horizontal := p.Dir == SplitLeft || p.Dir == SplitRight
	total := height
	if horizontal {
		total = width
	}

	// child2 is the window the split created; the policy sizes it.
	size := int(p.Size)
	if !p.Fixed {
		size = total * int(p.Size) / 100
	}
	if size > total {
		size = total
	}
	rest := total - size

	switch p.Dir {
	case SplitLeft:
		w.child2.layout(left, top, size, height)
		w.child1.layout(left+size, top, rest, height)
	case SplitRight:
		w.child1.layout(left, top, rest, height)
		w.child2.layout(left+rest, top, size, height)
	case SplitAbove:
		w.child2.layout(left, top, width, size)
		w.child1.layout(left, top+size, width, rest)
	case SplitBelow:
		w.child1.layout(left, top, width, rest)
		w.child2.layout(left, top+rest, width, size)
	}
}
