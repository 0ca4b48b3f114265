package presence

// Viewport describes the visible region of the editor in pixels,
// together with the scroll offset and the character cell dimensions
// used to project (line, column) cursor coordinates into pixel space.
type Viewport struct {
	Width      int
	Height     int
	ScrollX    int
	ScrollY    int
	CellWidth  int
	CellHeight int
}

// CursorVirtualizer filters cursor positions down to those inside the
// current viewport. It is a pure geometric containment check, meant to
// be recomputed on every viewport or scroll change; nothing here is
// persisted.
type CursorVirtualizer struct {
	viewport Viewport
}

// NewCursorVirtualizer creates a virtualizer for the given viewport.
func NewCursorVirtualizer(viewport Viewport) *CursorVirtualizer {
	return &CursorVirtualizer{viewport: viewport}
}

// SetViewport replaces the viewport (scroll or resize event).
func (v *CursorVirtualizer) SetViewport(viewport Viewport) {
	v.viewport = viewport
}

// Visible returns the subset of cursors whose projected cell overlaps
// the viewport.
func (v *CursorVirtualizer) Visible(cursors []CursorPosition) []CursorPosition {
	var visible []CursorPosition

	for _, c := range cursors {
		if v.contains(c) {
			visible = append(visible, c)
		}
	}

	return visible
}

// contains projects the cursor's cell into viewport space and checks
// overlap. A cursor on the edge counts as visible if any part of its
// cell is inside.
func (v *CursorVirtualizer) contains(c CursorPosition) bool {
	vp := v.viewport
	if vp.CellWidth <= 0 || vp.CellHeight <= 0 {
		return false
	}

	x := c.Column*vp.CellWidth - vp.ScrollX
	y := c.Line*vp.CellHeight - vp.ScrollY

	if x+vp.CellWidth <= 0 || x >= vp.Width {
		return false
	}

	if y+vp.CellHeight <= 0 || y >= vp.Height {
		return false
	}

	return true
}
