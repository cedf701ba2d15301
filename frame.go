package asyncssr

// Frame is one entry of the renderer's work stack. Opening an element pushes
// a frame holding its remaining children, the footer markup to emit when the
// frame completes, and the legacy context and namespace its children inherit.
type Frame struct {
	// Type is the element type that opened the frame: a tag name for host
	// elements, a marker type for fragments and providers, nil for the
	// bottom frame.
	Type any

	// Children are the pending child values; ChildIndex is the next one to
	// render.
	Children   []any
	ChildIndex int

	// Footer is emitted when the frame completes, e.g. a closing tag.
	Footer string

	// Context and Namespace are inherited by every child of this frame.
	Context   LegacyContext
	Namespace string

	// Provider is set when this frame pushed a keyed context provider; the
	// provider pops when the frame completes.
	Provider *Ctx

	restoreSelect    any
	hasRestoreSelect bool
}

// FrameStack is the renderer's work stack. A pop observer may be installed
// to take over footer handling; the renderer checks Hooked before flushing
// footers itself.
type FrameStack struct {
	frames []*Frame
	onPop  func(*Frame)
}

// NewFrameStack returns an empty stack.
func NewFrameStack() *FrameStack {
	return &FrameStack{}
}

// Push adds f to the top of the stack.
func (s *FrameStack) Push(f *Frame) {
	s.frames = append(s.frames, f)
}

// Pop removes and returns the top frame, notifying the pop observer first.
// It returns nil on an empty stack.
func (s *FrameStack) Pop() *Frame {
	n := len(s.frames)
	if n == 0 {
		return nil
	}
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	if s.onPop != nil {
		s.onPop(f)
	}
	return f
}

// Discard removes and returns the top frame without notifying the pop
// observer. It exists for frames that were pushed speculatively and must
// leave no trace.
func (s *FrameStack) Discard() *Frame {
	n := len(s.frames)
	if n == 0 {
		return nil
	}
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	return f
}

// Top returns the top frame without removing it, or nil when empty.
func (s *FrameStack) Top() *Frame {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return nil
}

// Depth reports the number of frames on the stack.
func (s *FrameStack) Depth() int { return len(s.frames) }

// At returns the frame at position i, 0 being the bottom.
func (s *FrameStack) At(i int) *Frame { return s.frames[i] }

// OnPop installs fn as the pop observer. Passing nil removes it.
func (s *FrameStack) OnPop(fn func(*Frame)) { s.onPop = fn }

// Hooked reports whether a pop observer is installed.
func (s *FrameStack) Hooked() bool { return s.onPop != nil }
