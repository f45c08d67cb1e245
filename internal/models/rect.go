package models

// Rect is an axis-aligned rectangle in pixel coordinates (x, y, width, height).
// It is used both for the region of interest configured on a video and for
// face bounding boxes, always expressed in original-frame coordinates.
type Rect struct {
	X int `json:"x" db:"x"`
	Y int `json:"y" db:"y"`
	W int `json:"w" db:"w"`
	H int `json:"h" db:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// ClampTo clips the rectangle to a frame of the given dimensions. A rectangle
// fully outside the frame collapses to an empty-but-valid rectangle at the
// nearest frame edge.
func (r Rect) ClampTo(width, height int) Rect {
	x1 := clamp(r.X, 0, width)
	y1 := clamp(r.Y, 0, height)
	x2 := clamp(r.X+r.W, 0, width)
	y2 := clamp(r.Y+r.H, 0, height)
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// Translate shifts the rectangle by (dx, dy).
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// ShortSide returns the smaller of width and height.
func (r Rect) ShortSide() int {
	return min(r.W, r.H)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
